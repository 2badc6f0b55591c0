package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thejerf/suture/v4"

	"github.com/lms2upnp/bridge/internal/bridge"
	"github.com/lms2upnp/bridge/internal/config"
	"github.com/lms2upnp/bridge/internal/didl"
	"github.com/lms2upnp/bridge/internal/discovery"
	"github.com/lms2upnp/bridge/internal/lms"
	"github.com/lms2upnp/bridge/internal/log"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
	"github.com/lms2upnp/bridge/internal/streaming"
	"github.com/lms2upnp/bridge/internal/supervisor"
	"github.com/lms2upnp/bridge/internal/tracing"
)

var version = "v0.1.0"

// facilityLevels is repeatable "facility=level" debug flag's backing
// store, implementing pflag.Value so every -d accumulates rather than
// overwriting.
type facilityLevels []string

func (f *facilityLevels) String() string { return strings.Join(*f, ",") }

func (f *facilityLevels) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func (f *facilityLevels) Type() string { return "facility=level" }

var _ pflag.Value = (*facilityLevels)(nil)

// cliOptions is the flat getopt-style flag list, carried on a cobra
// root command.
type cliOptions struct {
	server         string
	configPath     string
	discoverOnly   string
	autoSave       bool
	logFile        string
	pidFile        string
	facilityLevel  facilityLevels
	nonInteractive bool
	fastShutdown   bool
	daemonize      bool
	license        bool
}

func main() {
	opts := &cliOptions{}
	root := newRootCommand(opts, func() error { return run(opts) })

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the cobra command and binds opts to its flags.
// runE is invoked with opts already populated; split out from main so
// flag parsing can be exercised without starting the bridge.
func newRootCommand(opts *cliOptions, runE func() error) *cobra.Command {
	root := &cobra.Command{
		Use:     "lms2upnp",
		Short:   "Bridges DLNA renderers into LMS as native players",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runE()
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.server, "server", "s", "", "LMS server[:port]")
	flags.StringVarP(&opts.configPath, "config", "x", "squeeze2upnp.xml", "config file path")
	flags.StringVarP(&opts.discoverOnly, "discover", "i", "", "discover, save to <config>, and exit")
	flags.BoolVarP(&opts.autoSave, "autosave", "I", false, "auto-save config after each scan")
	flags.StringVarP(&opts.logFile, "logfile", "f", "", "log file path (stdout if empty)")
	flags.StringVarP(&opts.pidFile, "pidfile", "p", "", "pid file path")
	flags.VarP(&opts.facilityLevel, "debug", "d", "facility=level, repeatable")
	flags.BoolVarP(&opts.nonInteractive, "non-interactive", "Z", false, "disable the interactive command loop")
	flags.BoolVarP(&opts.fastShutdown, "fast-shutdown", "k", false, "skip graceful Stop RPCs on shutdown")
	flags.BoolVarP(&opts.daemonize, "daemonize", "z", false, "daemonize on POSIX (no-op on other platforms)")
	flags.BoolVarP(&opts.license, "license", "t", false, "print license terms and exit")

	return root
}

func run(opts *cliOptions) error {
	if opts.license {
		fmt.Println("lms2upnp is distributed under the terms described in LICENSE.")
		return nil
	}

	var rotating *log.RotatingFile
	logCfg := log.Config{Level: "info", Service: "lms2upnp", Version: version}
	if opts.logFile != "" {
		rf, err := log.NewRotatingFile(opts.logFile, 10*1024*1024)
		if err != nil {
			return err
		}
		rotating = rf
		defer rotating.Close()
		logCfg.Output = rotating
	}
	log.Configure(logCfg)

	for _, fl := range opts.facilityLevel {
		parts := strings.SplitN(fl, "=", 2)
		if len(parts) == 2 {
			_ = log.SetLevel(parts[1])
		}
	}

	if opts.pidFile != "" {
		if err := os.WriteFile(opts.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			log.WithComponent("main").Warn().Err(err).Msg("failed to write pidfile")
		}
	}

	logger := log.WithComponent("main")

	shutdownTracing, err := tracing.Init(context.Background(), os.Getenv("LMS2UPNP_OTLP_ENDPOINT"), version)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing init failed, continuing without spans")
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	configPath := opts.configPath
	if opts.discoverOnly != "" {
		configPath = opts.discoverOnly
	}

	store, err := config.Load(configPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", configPath).Msg("config load failed, running with defaults")
	}

	soapClient := soap.NewClient()
	matchCache := didl.NewMatchCache()
	defer matchCache.Stop()
	origin := streaming.NewOrigin(2000, 131072, true)
	origin.SetNotifyHandler(bridge.HandleNotify)

	var events lms.PlayerEvents = lms.LoggingEvents{}

	// The origin's listener is bound here, up front, rather than left
	// to the supervisor to bind on Serve: bring-up needs the port
	// immediately to build each device's GENA NOTIFY callback URL.
	// Discover-only mode never starts the origin server, so it skips
	// this and every device subscribes with an empty callback port,
	// which bridge.Device.subscribeRenderingControl treats as "skip".
	var originLn net.Listener
	var callbackPort string
	if opts.discoverOnly == "" {
		var lnErr error
		originLn, lnErr = net.Listen("tcp", ":0")
		if lnErr != nil {
			return lnErr
		}
		_, callbackPort, _ = net.SplitHostPort(originLn.Addr().String())
	}

	deps := bridge.Deps{
		SoapClient:   soapClient,
		MatchCache:   matchCache,
		Origin:       origin,
		Events:       events,
		FastShutdown: opts.fastShutdown,
		CallbackPort: callbackPort,
	}
	configFor := func(udn string) model.DeviceConfig {
		return config.DeviceConfig(store.Snapshot(), udn)
	}

	registry := discovery.NewRegistry(
		config.DeviceConfig(store.Snapshot(), "").RemoveTimeout,
		bridge.BringUp(deps, configFor),
		bridge.TearDown(deps),
	)

	if opts.discoverOnly != "" {
		return discoverSaveExit(registry, store, configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New()
	sup.Add(&supervisor.DiscoveryService{Registry: registry, ScanInterval: 15 * time.Second, ScanTimeout: 3 * time.Second})
	sup.Add(&supervisor.OriginService{Listener: originLn, Handler: origin.Router()})
	if rotating != nil {
		sup.Add(&supervisor.LogRotationChecker{File: rotating, Interval: time.Minute})
	}

	if opts.autoSave {
		sup.Add(autoSaveService{registry: registry, store: store, path: configPath, every: 30 * time.Second})
	}

	if !opts.nonInteractive && isInteractiveTerminal() {
		go runInteractiveLoop(ctx, store, registry, configPath)
	}

	logger.Info().Str("event", "startup").Str("version", version).Str("config", configPath).Str("lms_server", opts.server).Msg("lms2upnp starting")

	err = sup.Serve(ctx)

	// Tear every live device down on the way out: each one gets its
	// synchronous Stop RPC (skipped under -k) and its bridge loop exits.
	teardown := bridge.TearDown(deps)
	for _, r := range registry.Snapshot() {
		teardown(r)
	}
	return err
}

// discoverSaveExit implements "-i <config>": run exactly one discovery
// cycle, force-save, exit.
func discoverSaveExit(registry *discovery.Registry, store *config.Store, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := registry.RunScan(ctx, 3*time.Second); err != nil {
		return err
	}

	live := snapshotLiveDevices(registry)
	return store.Save(path, live, true)
}

func snapshotLiveDevices(registry *discovery.Registry) []config.LiveDevice {
	renderers := registry.Snapshot()
	live := make([]config.LiveDevice, 0, len(renderers))
	for _, r := range renderers {
		r.Mu.Lock()
		live = append(live, config.LiveDevice{
			UDN:          r.UDN,
			MAC:          model.MACString(r.HardwareAddr),
			FriendlyName: r.FriendlyName,
			Name:         r.FriendlyName,
			Server:       r.IPv4,
		})
		r.Mu.Unlock()
	}
	return live
}

// autoSaveService implements "-I" (auto-save config after each scan),
// running on its own timer independent of the discovery scan cadence
// so a slow scan doesn't starve a save.
type autoSaveService struct {
	registry *discovery.Registry
	store    *config.Store
	path     string
	every    time.Duration
}

func (s autoSaveService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	logger := log.WithComponent("main.autosave")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			live := snapshotLiveDevices(s.registry)
			if err := s.store.Save(s.path, live, false); err != nil {
				logger.Warn().Err(err).Msg("autosave failed")
			}
		}
	}
}

var _ suture.Service = autoSaveService{}

func isInteractiveTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// runInteractiveLoop reads line-buffered stdin commands: per-facility
// level changes via sdbg/odbg/pdbg/wdbg/mdbg/qdbg/udbg, `save <name>`,
// and `exit`.
func runInteractiveLoop(ctx context.Context, store *config.Store, registry *discovery.Registry, configPath string) {
	logger := log.WithComponent("main.interactive")
	scanner := bufio.NewScanner(os.Stdin)

	facilities := map[string]struct{}{
		"sdbg": {}, "odbg": {}, "pdbg": {}, "wdbg": {}, "mdbg": {}, "qdbg": {}, "udbg": {},
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]

		switch {
		case cmd == "exit":
			return
		case cmd == "save" && len(fields) >= 2:
			live := snapshotLiveDevices(registry)
			path := configPath
			if fields[1] != "" {
				path = fields[1]
			}
			if err := store.Save(path, live, false); err != nil {
				logger.Warn().Err(err).Msg("save failed")
			}
		default:
			if _, ok := facilities[cmd]; ok && len(fields) >= 2 {
				if err := log.SetLevel(fields[1]); err != nil {
					logger.Warn().Err(err).Str("facility", cmd).Msg("unknown level")
				}
			}
		}
	}
}
