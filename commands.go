package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"yee/internal/command"
	"yee/internal/lights"
	"yee/internal/store"
)

var errUsage = errors.New("usage")

type action int

const (
	actionApply action = iota
	actionPreset
	actionPickPreset
	actionSavePreset
	actionDeletePreset
	actionListPresets
	actionList
	actionPairHue
)

// invocation is a parsed command line.
type invocation struct {
	action action
	name   string

	ops []command.Operation
	// usesDefaultMode marks power operations whose mode comes from config.
	usesDefaultMode bool

	preset string
	def    store.Preset
	ip     string
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func parseCommand(args []string) (invocation, error) {
	if len(args) == 0 {
		return invocation{}, usagef("missing command")
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "on", "off":
		if len(rest) != 0 {
			return invocation{}, usagef("%s takes no arguments", cmd)
		}
		return powerInvocation(cmd == "on", nil)
	case "power":
		if len(rest) == 0 || (rest[0] != "on" && rest[0] != "off") {
			return invocation{}, usagef("power needs on or off")
		}
		return powerInvocation(rest[0] == "on", rest[1:])
	case "temp":
		k, err := intArg(cmd, rest)
		if err != nil {
			return invocation{}, err
		}
		return applyInvocation(command.ColorTemperature(k))
	case "rgb":
		if len(rest) != 1 {
			return invocation{}, usagef("rgb needs one color")
		}
		c, err := lights.ParseRGB(rest[0])
		if err != nil {
			return invocation{}, usagef("%v", err)
		}
		return applyInvocation(command.Color(c))
	case "brightness":
		b, err := intArg(cmd, rest)
		if err != nil {
			return invocation{}, err
		}
		return applyInvocation(command.Brightness(b))
	case "preset":
		return parsePreset(rest)
	case "presets":
		return invocation{action: actionListPresets, name: cmd}, nil
	case "list":
		return invocation{action: actionList, name: cmd}, nil
	case "pair-hue":
		if len(rest) > 1 {
			return invocation{}, usagef("pair-hue takes at most one address")
		}
		inv := invocation{action: actionPairHue, name: cmd}
		if len(rest) == 1 {
			inv.ip = rest[0]
		}
		return inv, nil
	}
	return invocation{}, usagef("unknown command %q", cmd)
}

func applyInvocation(op command.Operation) (invocation, error) {
	if err := op.Validate(); err != nil {
		return invocation{}, usagef("%v", err)
	}
	return invocation{action: actionApply, name: op.String(), ops: []command.Operation{op}}, nil
}

func powerInvocation(on bool, args []string) (invocation, error) {
	fs := newFlagSet("power")
	mode := fs.String("mode", "", "smooth or sudden (default from config)")
	duration := fs.Duration("duration", 0, "smooth transition length")
	if err := fs.Parse(args); err != nil {
		return invocation{}, usagef("%v", err)
	}
	if fs.NArg() > 0 {
		return invocation{}, usagef("unexpected argument %q", fs.Arg(0))
	}

	name := "power off"
	if on {
		name = "power on"
	}
	inv := invocation{action: actionApply, name: name}
	if *mode == "" && *duration == 0 {
		inv.usesDefaultMode = true
		inv.ops = []command.Operation{command.Power(on, lights.Smooth)}
		return inv, nil
	}

	m := *mode
	if m == "" {
		m = "smooth"
	}
	pm, err := lights.ParsePowerMode(m, *duration)
	if err != nil {
		return invocation{}, usagef("%v", err)
	}
	inv.ops = []command.Operation{command.Power(on, pm)}
	return inv, nil
}

func parsePreset(args []string) (invocation, error) {
	if len(args) == 0 {
		return invocation{action: actionPickPreset, name: "preset"}, nil
	}
	switch args[0] {
	case "save":
		return parsePresetSave(args[1:])
	case "rm":
		if len(args) != 2 {
			return invocation{}, usagef("preset rm needs a name")
		}
		return invocation{action: actionDeletePreset, name: "preset rm", preset: args[1]}, nil
	}
	if len(args) != 1 {
		return invocation{}, usagef("preset takes one name")
	}
	return invocation{action: actionPreset, name: "preset " + args[0], preset: args[0]}, nil
}

func parsePresetSave(args []string) (invocation, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return invocation{}, usagef("preset save needs a name")
	}
	name := args[0]

	fs := newFlagSet("preset save")
	power := fs.String("power", "", "on or off")
	brightness := fs.Int("brightness", 0, "1-100")
	kelvin := fs.Int("kelvin", 0, "color temperature")
	rgb := fs.String("rgb", "", "hex color")
	if err := fs.Parse(args[1:]); err != nil {
		return invocation{}, usagef("%v", err)
	}

	var def store.Preset
	switch *power {
	case "":
	case "on", "off":
		on := *power == "on"
		def.Power = &on
	default:
		return invocation{}, usagef("-power must be on or off")
	}
	if *brightness != 0 {
		def.Brightness = brightness
	}
	if *kelvin != 0 {
		def.Kelvin = kelvin
	}
	def.RGB = *rgb

	return invocation{action: actionSavePreset, name: "preset save", preset: name, def: def}, nil
}

func intArg(cmd string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, usagef("%s needs one number", cmd)
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, usagef("%s: %q is not a number", cmd, args[0])
	}
	return v, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// withPowerMode fills in the configured mode for power operations that did
// not name one.
func (inv invocation) withPowerMode(mode lights.PowerMode) []command.Operation {
	if !inv.usesDefaultMode {
		return inv.ops
	}
	ops := make([]command.Operation, len(inv.ops))
	for i, op := range inv.ops {
		if op.Kind == command.KindPower {
			op.Mode = mode
		}
		ops[i] = op
	}
	return ops
}

// parseOnly splits the -only flag value.
func parseOnly(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// selectDevices keeps the devices whose ID or name matches one of want, in
// snapshot order. Every entry of want must match something.
func selectDevices(devices []lights.Device, want []string) ([]lights.Device, error) {
	if len(want) == 0 {
		return devices, nil
	}
	matched := make(map[string]bool, len(want))
	var out []lights.Device
	for _, d := range devices {
		hit := false
		for _, w := range want {
			if d.ID == w || strings.EqualFold(d.Name, w) {
				matched[w] = true
				hit = true
			}
		}
		if hit {
			out = append(out, d)
		}
	}
	var missing []string
	for _, w := range want {
		if !matched[w] {
			missing = append(missing, w)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no such light: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String() + " ago"
}
