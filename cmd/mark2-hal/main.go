package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hubertat/servicemaker"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

var halService = servicemaker.ServiceMaker{
	User:               "root",
	ServicePath:        "/etc/systemd/system/mark2-hal.service",
	ServiceDescription: "Mycroft Mark II hardware abstraction layer (fan, amplifier, LEDs, buttons)",
	ExecDir:            "/usr/local/bin",
	ExecName:           "mark2-hal",
}

func printVersion() {
	fmt.Printf("mark2-hal v%s\n", version)
	fmt.Println("Hardware abstraction daemon for the Mycroft Mark II (SJ201 board)")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  mark2-hal [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Owns the fan, amplifier, LED ring and buttons of the Mark II and")
	fmt.Println("  exposes them over D-Bus, a Unix socket, an HTTP API and optionally")
	fmt.Println("  the Mycroft message bus.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML configuration file (default %q)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -websocket")
	fmt.Println("        Connect to the Mycroft message bus")
	fmt.Println()
	fmt.Println("  -debug")
	fmt.Println("        Shorthand for -log-level debug")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default from config, \"info\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Printf("        HTTP API listen address, empty disables (default %q)\n", defaultHTTPListenAddr)
	fmt.Println()
	fmt.Println("  -install")
	fmt.Println("        Install the systemd service and exit")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Needs access to /dev/i2c-1 and /dev/gpiomem; the LED strip path needs root")
	fmt.Println("  - The D-Bus name must be allowed by a policy in /etc/dbus-1/system.d/")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", defaultConfigPath, "YAML configuration file")
		websocketOn = flag.Bool("websocket", false, "Connect to the Mycroft message bus")
		debug       = flag.Bool("debug", false, "Print DEBUG messages")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		ipcSocket   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpListen  = flag.String("http-listen", "", "HTTP API listen address")
		install     = flag.Bool("install", false, "Install the systemd service and exit")
		_           = flag.Bool("version", false, "Print version and exit")
		_           = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *install {
		if err := halService.InstallService(); err != nil {
			fmt.Fprintln(os.Stderr, "error: install service:", err)
			os.Exit(1)
		}
		fmt.Println("service installed!")
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Only flags given on the command line override the config file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "websocket":
			overrides.MessageBusEnabled = websocketOn
		case "log-level":
			overrides.LogLevel = logLevelStr
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "http-listen":
			overrides.HTTPListen = httpListen
		}
	})
	overrides.Apply(&cfg)
	if *debug {
		cfg.Logging.Level = string(LogLevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(os.Stdout, logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("mark2-hal stopped with error", "error", err)
		os.Exit(1)
	}
}

// run brings up the hardware and adapters and blocks until SIGINT/SIGTERM.
func run(cfg Config, logger *slog.Logger) error {
	logger.Debug("starting mark2-hal", "version", version)

	if err := initHost(); err != nil {
		return err
	}

	bus, err := openRegisterBus(cfg.I2C.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	pins, err := openButtonPins(cfg.Buttons.Pins)
	if err != nil {
		return err
	}

	dispatcher := NewDispatcher(componentLogger(logger, "dispatcher"))

	fan, err := NewFanDriver(cfg.Fan, bus, func() (pwmOutput, error) {
		return openRPIOPWM(cfg.Fan.PWMPin, cfg.Fan.PWMFreqHz)
	}, componentLogger(logger, "fan"))
	if err != nil {
		return err
	}

	amp := NewAmpDriver(cfg.Amp, bus, componentLogger(logger, "amp"))

	ledLogger := componentLogger(logger, "leds")
	leds, err := NewLedController(cfg.Leds, bus, func() (pixelWriter, error) {
		return openLedStrip(cfg.Leds.StripPin, ledLogger)
	}, ledLogger)
	if err != nil {
		_ = fan.Stop()
		return err
	}

	buttons := NewButtonController(pins, cfg.buttonDebounce(), cfg.buttonSettle(), dispatcher.Submit, componentLogger(logger, "buttons"))

	mark2 := NewMark2(fan, amp, leds, buttons, logger)
	dispatcher.Register(mark2)

	// Shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.DBus.Enabled {
		dbusAdapter, err := StartDBusAdapter(cfg.DBus.Name, mark2.Snapshot(), dispatcher.Submit, componentLogger(logger, "dbus"))
		if err != nil {
			_ = mark2.Stop()
			return err
		}
		defer dbusAdapter.Close()
		dispatcher.Register(dbusAdapter)
	}

	if cfg.MessageBus.Enabled {
		mbLogger := componentLogger(logger, "messagebus")
		client, err := NewMessageBusClient(cfg.MessageBus.URL, cfg.messageBusTimeout(), dispatcher.Submit, mbLogger)
		if err != nil {
			_ = mark2.Stop()
			return err
		}
		defer client.Close()
		dispatcher.Register(client)
		g.Go(func() error { return client.Run(gctx) })
	}

	if cfg.Influx.Enabled {
		telemetry := NewTelemetry(gctx, cfg.Influx, componentLogger(logger, "influx"))
		defer telemetry.Close()
		dispatcher.Register(telemetry)
	}

	if cfg.HTTP.Enabled {
		wsLogger := componentLogger(logger, "ws")
		wsServer := NewServer(wsLogger, mark2.Snapshot, ServerConfig{})
		broadcaster := newStateBroadcaster(0, wsLogger)
		dispatcher.Register(broadcaster)

		api := &apiServer{
			logger:   componentLogger(logger, "http"),
			submit:   dispatcher.Submit,
			snapshot: mark2.Snapshot,
			report:   buttons.Report,
		}
		router := newRouter(api, wsServer)

		g.Go(func() error {
			wsServer.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, wsServer.Hub(), broadcaster.Events(), wsLogger)
			return nil
		})
		g.Go(func() error { return runHTTPServer(gctx, cfg.HTTP.Listen, router, api.logger) })
	}

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, dispatcher.Submit, componentLogger(logger, "ipc"))
	})

	g.Go(func() error {
		dispatcher.Run(gctx, mark2.IsRunning)
		return nil
	})

	buttons.Start()
	leds.Start()

	g.Go(func() error {
		runWatchdog(gctx, watchdogInterval(cfg.watchdogInterval()), daemon.SdNotify, componentLogger(logger, "watchdog"))
		return nil
	})
	notifyReady(daemon.SdNotify, logger)

	logger.Info("listening",
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Listen,
		"dbus", cfg.DBus.Enabled,
		"messagebus", cfg.MessageBus.Enabled)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component failed", "error", err)
	}

	logger.Info("shutting down", "pending_events", dispatcher.Pending())
	notifyStopping(daemon.SdNotify, logger)
	if stopErr := mark2.Stop(); stopErr != nil {
		logger.Error("peripheral shutdown incomplete", "error", stopErr)
	}
	logger.Info("stopped")
	return err
}
