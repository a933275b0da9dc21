package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yee/internal/command"
	"yee/internal/config"
	"yee/internal/directory"
	"yee/internal/lights"
	"yee/internal/store"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args   []string
		action action
		name   string
		ops    []command.Operation
	}{
		{[]string{"on"}, actionApply, "power on", []command.Operation{command.Power(true, lights.Smooth)}},
		{[]string{"off"}, actionApply, "power off", []command.Operation{command.Power(false, lights.Smooth)}},
		{[]string{"power", "off", "-mode", "sudden"}, actionApply, "power off", []command.Operation{command.Power(false, lights.Sudden)}},
		{[]string{"temp", "2700"}, actionApply, "temp 2700K", []command.Operation{command.ColorTemperature(2700)}},
		{[]string{"brightness", "40"}, actionApply, "brightness 40%", []command.Operation{command.Brightness(40)}},
		{[]string{"rgb", "#ff6a00"}, actionApply, "rgb ff6a00", []command.Operation{command.Color(lights.RGB{R: 0xff, G: 0x6a})}},
		{[]string{"presets"}, actionListPresets, "presets", nil},
		{[]string{"list"}, actionList, "list", nil},
		{[]string{"preset"}, actionPickPreset, "preset", nil},
		{[]string{"preset", "night"}, actionPreset, "preset night", nil},
		{[]string{"preset", "rm", "night"}, actionDeletePreset, "preset rm", nil},
		{[]string{"pair-hue"}, actionPairHue, "pair-hue", nil},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			inv, err := parseCommand(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.action, inv.action)
			assert.Equal(t, tt.name, inv.name)
			if tt.ops != nil {
				assert.Equal(t, tt.ops, inv.ops)
			}
		})
	}
}

func TestParseCommandRejects(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"dance"},
		{"on", "now"},
		{"power"},
		{"power", "maybe"},
		{"power", "on", "-mode", "wobbly"},
		{"temp"},
		{"temp", "warm"},
		{"temp", "20000"},
		{"brightness", "0"},
		{"rgb", "red"},
		{"preset", "rm"},
		{"preset", "a", "b"},
		{"preset", "save"},
		{"preset", "save", "x", "-power", "dim"},
		{"pair-hue", "10.0.0.2", "10.0.0.3"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := parseCommand(args)
			require.Error(t, err)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestParsePresetSave(t *testing.T) {
	inv, err := parseCommand([]string{"preset", "save", "reading", "-power", "on", "-brightness", "70", "-kelvin", "4000"})
	require.NoError(t, err)

	assert.Equal(t, actionSavePreset, inv.action)
	assert.Equal(t, "reading", inv.preset)
	require.NotNil(t, inv.def.Power)
	assert.True(t, *inv.def.Power)
	require.NotNil(t, inv.def.Brightness)
	assert.Equal(t, 70, *inv.def.Brightness)
	require.NotNil(t, inv.def.Kelvin)
	assert.Equal(t, 4000, *inv.def.Kelvin)
	assert.Empty(t, inv.def.RGB)
}

func TestPairHueAddress(t *testing.T) {
	inv, err := parseCommand([]string{"pair-hue", "192.168.1.20"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", inv.ip)
}

func TestWithPowerMode(t *testing.T) {
	inv, err := parseCommand([]string{"off"})
	require.NoError(t, err)
	ops := inv.withPowerMode(lights.Sudden)
	require.Len(t, ops, 1)
	assert.Equal(t, lights.Sudden, ops[0].Mode)
	// the parsed invocation is left untouched
	assert.Equal(t, lights.Smooth, inv.ops[0].Mode)

	explicit, err := parseCommand([]string{"power", "on", "-duration", "2s"})
	require.NoError(t, err)
	ops = explicit.withPowerMode(lights.Sudden)
	assert.Equal(t, lights.PowerMode{Smooth: true, Duration: 2 * time.Second}, ops[0].Mode)
}

func TestParseOnly(t *testing.T) {
	assert.Nil(t, parseOnly(""))
	assert.Equal(t, []string{"a", "b c"}, parseOnly(" a ,, b c ,"))
}

func TestSelectDevices(t *testing.T) {
	devices := []lights.Device{
		{ID: "yeelight:1", Name: "Desk"},
		{ID: "lifx:2", Name: "Shelf"},
		{ID: "hue:3", Name: "Hall"},
	}

	all, err := selectDevices(devices, nil)
	require.NoError(t, err)
	assert.Equal(t, devices, all)

	picked, err := selectDevices(devices, []string{"hall", "yeelight:1"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "yeelight:1", picked[0].ID, "snapshot order is kept")
	assert.Equal(t, "hue:3", picked[1].ID)

	_, err = selectDevices(devices, []string{"desk", "garage", "attic"})
	require.Error(t, err)
	assert.Equal(t, "no such light: garage, attic", err.Error())
}

func TestMatchPreset(t *testing.T) {
	list := []store.Preset{{Name: "day"}, {Name: "Evening"}}

	p, ok := matchPreset(list, "2")
	require.True(t, ok)
	assert.Equal(t, "Evening", p.Name)

	p, ok = matchPreset(list, "DAY")
	require.True(t, ok)
	assert.Equal(t, "day", p.Name)

	_, ok = matchPreset(list, "3")
	assert.False(t, ok)
	_, ok = matchPreset(list, "0")
	assert.False(t, ok)
	_, ok = matchPreset(list, "night")
	assert.False(t, ok)
}

func TestExitCode(t *testing.T) {
	timeout := fmt.Errorf("wrapped: %w", directory.ErrDiscoveryTimeout)

	assert.Equal(t, exitOK, exitCode(true, nil))
	assert.Equal(t, exitFailure, exitCode(false, nil))
	assert.Equal(t, exitUsage, exitCode(false, usagef("bad")))
	assert.Equal(t, exitDiscovery, exitCode(false, timeout))
	assert.NotEqual(t, exitCode(false, usagef("bad")), exitCode(false, timeout))
	assert.Equal(t, exitFailure, exitCode(false, errors.New("boom")))
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, globalFlags{retries: -1})
	assert.Equal(t, config.Default(), cfg, "unset flags change nothing")

	applyFlags(cfg, globalFlags{count: 3, timeout: time.Second, retries: 0, verbose: true})
	assert.Equal(t, 3, cfg.Discovery.ExpectedDevices)
	assert.Equal(t, time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, 0, cfg.Discovery.Retries)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigDefaultMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("APPDATA", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func newTestApp(t *testing.T, stdout io.Writer) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Discovery.Brands = []string{"hue"}
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(cfg, logger, io.NopCloser(strings.NewReader("")), stdout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestAppPresetsLifecycle(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(t, &out)
	ctx := context.Background()

	code, err := app.Execute(ctx, invocation{action: actionListPresets}, globalFlags{})
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)
	for _, name := range []string{"day", "evening", "night", "off"} {
		assert.Contains(t, out.String(), name)
	}

	out.Reset()
	save, err := parseCommand([]string{"preset", "save", "reading", "-brightness", "70", "-kelvin", "4000"})
	require.NoError(t, err)
	code, err = app.Execute(ctx, save, globalFlags{})
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "saved preset reading")

	code, err = app.Execute(ctx, invocation{action: actionDeletePreset, preset: "reading"}, globalFlags{})
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)

	code, err = app.Execute(ctx, invocation{action: actionDeletePreset, preset: "reading"}, globalFlags{})
	require.Error(t, err)
	assert.Equal(t, exitFailure, code)
}

func TestAppSaveInvalidPresetIsUsageError(t *testing.T) {
	app := newTestApp(t, io.Discard)

	code, err := app.Execute(context.Background(), invocation{action: actionSavePreset, preset: "empty"}, globalFlags{})
	require.Error(t, err)
	assert.Equal(t, exitUsage, code)
}

func TestAppApplyWithoutKnownCount(t *testing.T) {
	app := newTestApp(t, io.Discard)

	inv, err := parseCommand([]string{"on"})
	require.NoError(t, err)
	code, err := app.Execute(context.Background(), inv, globalFlags{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errUsage)
	assert.Equal(t, exitUsage, code)
}
