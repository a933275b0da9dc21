package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"yee/internal/command"
	"yee/internal/config"
	"yee/internal/directory"
	"yee/internal/discovery"
	"yee/internal/lights"
	"yee/internal/presets"
	"yee/internal/report"
	"yee/internal/store"
)

const hueDeviceType = "yee#cli"

type App struct {
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.ReadCloser
	stdout io.Writer

	store        *store.Store
	lightManager *lights.Manager
	presets      *presets.Manager
	dir          *directory.Directory
	scanner      *discovery.Scanner
	synchronizer *directory.Synchronizer
	dispatcher   *command.Dispatcher
	hueCtrl      *lights.HueController
	publisher    *report.MQTTPublisher

	powerMode lights.PowerMode
}

func NewApp(cfg *config.Config, logger *slog.Logger, stdin io.ReadCloser, stdout io.Writer) (*App, error) {
	s, err := store.New(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	mode, err := lights.ParsePowerMode(cfg.Power.Mode, cfg.Power.Duration)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		stdin:        stdin,
		stdout:       stdout,
		store:        s,
		lightManager: lights.NewManager(logger),
		presets:      presets.NewManager(s),
		dir:          directory.New(logger),
		powerMode:    mode,
	}
	a.registerControllers()

	var elgato discovery.AddressRegistrar
	if c, ok := a.lightManager.GetController(lights.BrandElgato); ok {
		elgato = c.(*lights.ElgatoController)
	}
	a.scanner = discovery.NewScanner(a.lightManager, elgato, a.dir, discovery.Options{
		ElgatoMDNS:   cfg.Discovery.ElgatoMDNS,
		ProbeSubnets: cfg.Discovery.ProbeSubnets,
	}, logger)
	a.synchronizer = directory.NewSynchronizer(a.dir, logger)

	invoker := command.NewInvoker(command.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.Delay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  cfg.Retry.Multiplier,
	}, logger)
	a.dispatcher = command.NewDispatcher(invoker, cfg.Dispatch.Concurrency, logger)

	if cfg.MQTT.Broker != "" {
		p, err := report.DialMQTT(report.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Retained: cfg.MQTT.Retained,
		}, logger)
		if err != nil {
			logger.Warn("report publishing disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			a.publisher = p
		}
	}

	return a, nil
}

func (a *App) registerControllers() {
	d := a.cfg.Discovery

	if a.cfg.HasBrand(string(lights.BrandYeelight)) {
		y := lights.NewYeelightController(lights.YeelightConfig{
			SearchTimeout: d.SearchTimeout,
			Effect:        a.powerMode,
		}, a.logger)
		for _, addr := range d.YeelightAddresses {
			y.AddDevice(addr)
		}
		a.lightManager.RegisterController(y)
	}
	if a.cfg.HasBrand(string(lights.BrandLIFX)) {
		a.lightManager.RegisterController(lights.NewLIFXController(d.SearchTimeout, a.logger))
	}
	if a.cfg.HasBrand(string(lights.BrandHue)) {
		a.hueCtrl = lights.NewHueController(a.logger)
		bridges := make(map[string]string)
		for _, b := range a.store.GetHueBridges() {
			bridges[b.IP] = b.Username
		}
		for _, b := range d.HueBridges {
			bridges[b.IP] = b.Username
		}
		for ip, user := range bridges {
			if err := a.hueCtrl.AddBridge(ip, user); err != nil {
				a.logger.Warn("failed to add Hue bridge", "ip", ip, "error", err)
			}
		}
		a.lightManager.RegisterController(a.hueCtrl)
	}
	if a.cfg.HasBrand(string(lights.BrandElgato)) {
		e := lights.NewElgatoController(a.logger)
		for _, addr := range d.ElgatoAddresses {
			e.AddDevice(addr)
		}
		a.lightManager.RegisterController(e)
	}
	if a.cfg.HasBrand(string(lights.BrandGovee)) {
		a.lightManager.RegisterController(lights.NewGoveeController(d.SearchTimeout, a.logger))
	}
}

func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	errs = append(errs, a.lightManager.Close())
	return errors.Join(errs...)
}

// Execute runs one parsed command and returns the process exit code.
func (a *App) Execute(ctx context.Context, inv invocation, g globalFlags) (int, error) {
	switch inv.action {
	case actionApply:
		return a.apply(ctx, inv.name, inv.withPowerMode(a.powerMode), g)
	case actionPreset, actionPickPreset:
		if err := a.presets.EnsureDefaults(); err != nil {
			return exitFailure, err
		}
		p, err := a.resolvePreset(inv)
		if err != nil {
			return exitCode(false, err), err
		}
		ops, err := presets.Operations(p, a.powerMode)
		if err != nil {
			return exitFailure, err
		}
		return a.apply(ctx, "preset "+p.Name, ops, g)
	case actionSavePreset:
		p, err := a.presets.Create(inv.preset, inv.def)
		if err != nil {
			return exitCode(false, usagef("%v", err)), err
		}
		fmt.Fprintf(a.stdout, "saved preset %s: %s\n", p.Name, presets.Describe(p))
		return exitOK, nil
	case actionDeletePreset:
		if err := a.presets.EnsureDefaults(); err != nil {
			return exitFailure, err
		}
		if err := a.presets.Delete(inv.preset); err != nil {
			return exitFailure, err
		}
		return exitOK, nil
	case actionListPresets:
		if err := a.presets.EnsureDefaults(); err != nil {
			return exitFailure, err
		}
		return exitOK, a.printPresets()
	case actionList:
		return a.list(ctx)
	case actionPairHue:
		return a.pairHue(ctx, inv.ip)
	}
	return exitUsage, usagef("unhandled command")
}

func (a *App) resolvePreset(inv invocation) (store.Preset, error) {
	if inv.action == actionPreset {
		return a.presets.Find(inv.preset)
	}
	return pickPreset(a.presets.List(), a.stdin, a.stdout)
}

// apply waits for the expected lights, sends ops to every selected one and
// reports the outcome.
func (a *App) apply(ctx context.Context, name string, ops []command.Operation, g globalFlags) (int, error) {
	expected := a.cfg.Discovery.ExpectedDevices
	if expected == 0 {
		expected = a.store.KnownCount()
	}
	if expected == 0 {
		return exitUsage, usagef("number of lights unknown: run 'yee list' first or pass -count")
	}

	devices, err := a.awaitDevices(ctx, expected)
	if err != nil {
		return exitCode(false, err), err
	}
	devices, err = selectDevices(devices, parseOnly(g.only))
	if err != nil {
		return exitUsage, err
	}

	a.logger.Debug("dispatching", "command", name, "devices", len(devices))
	res := command.Summarize(a.dispatcher.Run(ctx, devices, command.Plan(a.lightManager, ops...)))
	rep := report.New(name, res, time.Now())

	if err := a.printReport(rep, g.json); err != nil {
		return exitFailure, err
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, rep); err != nil {
			a.logger.Warn("failed to publish report", "error", err)
		}
	}
	return exitCode(res.AllSucceeded, nil), nil
}

// awaitDevices runs the scanner until the directory holds expected lights.
func (a *App) awaitDevices(ctx context.Context, expected int) ([]lights.Device, error) {
	scanCtx, stopScan := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.scanner.Run(scanCtx, a.cfg.Discovery.ScanInterval)
	}()
	defer func() {
		stopScan()
		wg.Wait()
	}()

	snap, err := a.synchronizer.AwaitReady(ctx, expected, a.cfg.Discovery.Timeout, a.cfg.Discovery.Retries)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (a *App) printReport(rep report.Report, asJSON bool) error {
	if !asJSON {
		return report.Format(a.stdout, rep)
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func (a *App) list(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Discovery.Timeout)
	defer cancel()

	res := a.scanner.Round(ctx)
	for _, e := range res.Errors {
		a.logger.Warn("scan error", "error", e)
	}
	if err := a.store.SetDevices(res.Devices); err != nil {
		return exitFailure, fmt.Errorf("remember devices: %w", err)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODEL\tPOWER\tBRIGHT\tSEEN")
	now := time.Now()
	for _, d := range res.Devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Model, orDash(d.Prop("power")), orDash(d.Prop("bright")), formatAge(d.LastSeen, now))
	}
	if err := tw.Flush(); err != nil {
		return exitFailure, err
	}
	fmt.Fprintf(a.stdout, "%d light(s)\n", len(res.Devices))
	return exitOK, nil
}

func (a *App) printPresets() error {
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	for _, p := range a.presets.List() {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, presets.Describe(p))
	}
	return tw.Flush()
}

func (a *App) pairHue(ctx context.Context, ip string) (int, error) {
	if a.hueCtrl == nil {
		return exitUsage, usagef("hue is not in discovery.brands")
	}
	if ip == "" {
		findCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		found := discovery.NewHueFinder(a.cfg.Discovery.ProbeSubnets, a.logger).Find(findCtx)
		cancel()
		switch len(found) {
		case 0:
			return exitFailure, errors.New("no Hue bridge found; pass its address")
		case 1:
			ip = found[0].IP
		default:
			for _, b := range found {
				fmt.Fprintf(a.stdout, "%s\t%s\n", b.IP, b.Name)
			}
			return exitUsage, usagef("several bridges found; pass one address")
		}
	}

	username, err := a.hueCtrl.Pair(ctx, ip, hueDeviceType)
	if errors.Is(err, lights.ErrLinkButton) {
		return exitFailure, fmt.Errorf("press the link button on the bridge at %s and run pair-hue again", ip)
	}
	if err != nil {
		return exitFailure, fmt.Errorf("pair with %s: %w", ip, err)
	}
	if err := a.hueCtrl.AddBridge(ip, username); err != nil {
		return exitFailure, err
	}
	if _, err := a.store.AddHueBridge(ip, username); err != nil {
		return exitFailure, fmt.Errorf("paired but failed to save: %w", err)
	}
	fmt.Fprintf(a.stdout, "paired Hue bridge %s\n", ip)
	return exitOK, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
