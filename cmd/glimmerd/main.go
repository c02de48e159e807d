package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("glimmerd v%s\n", version)
	fmt.Println("Emotion timeline engine and scene parameter synchronizer")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  glimmerd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that animates an ambient light/particle scene from a looping")
	fmt.Println("  keyframed emotion timeline, keeps audio playback in step, and")
	fmt.Println("  publishes per-tick parameter frames. A companion device connects")
	fmt.Println("  over WebSocket for remote control and mirrored state.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (default: $GLIMMERD_CONFIG if set)")
	fmt.Println()
	fmt.Println("  -assets-dir string")
	fmt.Println("        Directory holding scene scripts and audio tracks")
	fmt.Println()
	fmt.Println("  -scene string")
	fmt.Printf("        Scene to start with (default %q)\n", defaultSceneName)
	fmt.Println()
	fmt.Println("  -tick-hz int")
	fmt.Printf("        Engine tick frequency in Hz (default %d)\n", defaultTickHz)
	fmt.Println()
	fmt.Println("  -brightness float")
	fmt.Printf("        Initial brightness in [0,1] (default %.1f)\n", defaultBrightness)
	fmt.Println()
	fmt.Println("  -volume float")
	fmt.Printf("        Initial audio volume in [0,1] (default %.1f)\n", defaultVolume)
	fmt.Println()
	fmt.Println("  -remote-port int")
	fmt.Printf("        Companion WebSocket listener port (default %d)\n", defaultRemotePort)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  GLIMMERD_CONFIG - Config file path (flag -config wins)")
	fmt.Println("  GLIMMERD_ASSETS - Assets directory (flag -assets-dir wins)")
	fmt.Println("  A .env file in the working directory is loaded if present.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults (assets/ in the working directory)")
	fmt.Println("  glimmerd")
	fmt.Println()
	fmt.Println("  # Custom config and a different starting scene")
	fmt.Println("  glimmerd -config /etc/glimmerd.yaml -scene tide")
	fmt.Println()
	fmt.Println("  # Companion listener on a non-default port")
	fmt.Println("  glimmerd -remote-port 9090")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
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

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		assetsDir   = flag.String("assets-dir", "", "Directory holding scene scripts and audio tracks")
		scene       = flag.String("scene", "", "Scene to start with")
		tickHz      = flag.Int("tick-hz", 0, "Engine tick frequency in Hz")
		brightness  = flag.Float64("brightness", -1, "Initial brightness in [0,1]")
		volume      = flag.Float64("volume", -1, "Initial audio volume in [0,1]")
		remotePort  = flag.Int("remote-port", 0, "Companion WebSocket listener port")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config: defaults -> file -> flag overrides -> validate.
	path := *configPath
	if path == "" {
		path = os.Getenv("GLIMMERD_CONFIG")
	}

	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var overrides FlagOverrides
	if *tickHz > 0 {
		overrides.TickHz = tickHz
	}
	if *brightness >= 0 {
		overrides.Brightness = brightness
	}
	if *scene != "" {
		overrides.DefaultScene = scene
	}
	if *volume >= 0 {
		overrides.AudioVolume = volume
	}
	if *remotePort > 0 {
		overrides.RemotePort = remotePort
	}
	if *assetsDir != "" {
		overrides.AssetsDir = assetsDir
	} else if env := os.Getenv("GLIMMERD_ASSETS"); env != "" {
		overrides.AssetsDir = &env
	}
	if *logLevelStr != "" {
		overrides.LogLevel = logLevelStr
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	engineCfg := cfg.ToEngineConfig()

	// Central channels: actions/observations into the engine, broadcasts out
	// to the companion hub.
	events := make(chan Event, 256)
	broadcasts := make(chan StateBroadcast, 256)

	assets := NewDirAssets(ExpandPath(cfg.Assets.Dir))
	transport := NewAudioTransport(beepSource{assets: assets}, speakerSink{}, logger)
	transport.SetVolume(cfg.Audio.Volume)

	// Companion WS server + channel. The hub is the channel's transport; the
	// hub's link/inbound callbacks feed the channel.
	server := NewServer(logger, events, ServerConfig{})
	hub := server.Hub()

	remote := NewRemoteChannel(hub, cfg.Remote.ForwardQueueLimit, func(ev Event) {
		events <- ev
	}, logger)
	hub.SetLinkFunc(func(connected bool) { remote.SetLinkState(connected) })
	hub.SetInboundFunc(remote.HandleInbound)

	runner := newEffectRunner(transport, assets, remote, engineCfg, events, logger)

	bus := &FrameBus{}
	bus.Subscribe(func(f ParameterFrame) {
		logger.Debug("frame",
			"seq_at", f.At.UnixMilli(),
			"intensity", f.Intensity,
			"color", f.Color.Hex(),
			"density", f.ParticleDensityHint,
			"audio_power", f.AudioPower)
	})
	bus.SubscribeScene(func(scene string, loaded bool) {
		if loaded {
			logger.Info("scene loaded", "scene", scene)
		} else {
			logger.Info("scene unloaded", "scene", scene)
		}
	})

	state := NewEngineState(cfg.Engine.Brightness)
	state.Scene.Name = engineCfg.DefaultScene

	mux := http.NewServeMux()
	server.Register(mux, "/ws")
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Remote.Port),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		RunBroadcaster(gctx, hub, broadcasts, logger)
		return nil
	})

	g.Go(func() error {
		runEngine(gctx, events, runner, bus, broadcasts, engineCfg, state, logger)
		return nil
	})

	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
		transport.Stop()
		return nil
	})

	logger.Info("listening",
		"remote_port", cfg.Remote.Port,
		"tick_hz", engineCfg.TickHz,
		"scene", engineCfg.DefaultScene,
		"assets_dir", cfg.Assets.Dir)

	// Kick off: load the starting scene and start the show.
	now := time.Now()
	events <- TimedEvent{Event: ChangeScene{Name: engineCfg.DefaultScene, Origin: OriginLocal}, At: now}
	events <- TimedEvent{Event: StartPlayback{}, At: now}

	if err := g.Wait(); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
