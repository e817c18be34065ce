// vr-obs-switcher: switches OBS camera sources by VR headset heading.
// Shows the front source while the wearer faces forward and the back
// source while they face away.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/teslashibe/vr-obs-switcher/internal/calibration"
	"github.com/teslashibe/vr-obs-switcher/internal/config"
	"github.com/teslashibe/vr-obs-switcher/internal/health"
	"github.com/teslashibe/vr-obs-switcher/internal/obsws"
	"github.com/teslashibe/vr-obs-switcher/internal/procwait"
	"github.com/teslashibe/vr-obs-switcher/internal/protocol"
	"github.com/teslashibe/vr-obs-switcher/internal/scene"
	"github.com/teslashibe/vr-obs-switcher/internal/server"
	"github.com/teslashibe/vr-obs-switcher/internal/switcher"
	"github.com/teslashibe/vr-obs-switcher/internal/tracking"
	"github.com/teslashibe/vr-obs-switcher/internal/vmc"
)

var version = "1.0.0"

func main() {
	flags := pflag.NewFlagSet("vr-obs-switcher", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	if show, _ := flags.GetBool("version"); show {
		fmt.Printf("vr-obs-switcher %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting vr-obs-switcher",
		"version", version,
		"config", configPath,
		"tracking", cfg.Tracking.Provider,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) int {
	// Interrupt is the normal way to stop
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	origin, err := tracking.ParseOrigin(cfg.Tracking.Origin)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	checker := health.NewChecker(version)

	// Initialize tracking provider
	var provider tracking.Provider
	switch cfg.Tracking.Provider {
	case config.ProviderMock:
		logger.Info("using mock tracking provider")
		provider = tracking.NewMockProviderWithWave()
		checker.SetComponent(health.ComponentTracking, true, "mock")
	default:
		source := vmc.NewSource(vmc.Config{
			ListenAddr:       cfg.Tracking.VMC.ListenAddr,
			StaleAfter:       cfg.Tracking.VMC.StaleAfter,
			DiscoveryTimeout: cfg.Tracking.VMC.DiscoveryTimeout,
		}, logger.With("component", "vmc"))
		checker.AddCheck(health.ComponentTracking, func() (bool, string) {
			st := source.Stats()
			return st.Tracking && st.Devices > 0, fmt.Sprintf("%d devices, %d packets", st.Devices, st.Packets)
		})
		provider = source
	}

	// Scene control: OBS, or an in-memory scene for dry runs
	required := cfg.Switcher.RequiredProcesses
	var client atomic.Pointer[obsws.Client]
	dial := func(ctx context.Context) (scene.Provider, error) {
		if cfg.Switcher.DryRun {
			return dryRunScene(cfg.Switcher), nil
		}

		obsCfg := obsws.DefaultConfig()
		obsCfg.Host = cfg.OBS.Host
		obsCfg.Port = cfg.OBS.Port
		obsCfg.Password = cfg.OBS.Password
		obsCfg.DialTimeout = cfg.OBS.DialTimeout
		obsCfg.RequestTimeout = cfg.OBS.RequestTimeout
		if cfg.Switcher.FollowScene {
			obsCfg.EventSubscriptions = protocol.EventSubScenes
		}

		c, err := obsws.Dial(ctx, obsCfg, logger.With("component", "obs"))
		if err != nil {
			return nil, err
		}
		client.Store(c)
		return c, nil
	}

	if cfg.Switcher.DryRun {
		logger.Info("dry run, OBS will not be contacted")
		required = nil
		checker.SetComponent(health.ComponentSceneControl, true, "dry run")
	} else {
		checker.AddCheck(health.ComponentSceneControl, func() (bool, string) {
			c := client.Load()
			if c == nil || !c.IsConnected() {
				return false, "not connected"
			}
			return true, "connected"
		})
	}

	// Calibration confirmation
	var confirmer calibration.Confirmer = calibration.NewPrompt(os.Stdin, os.Stdout)
	if cfg.Switcher.AutoCalibrate {
		confirmer = calibration.NewDelay(cfg.Switcher.CalibrationDelay)
	}

	sw := switcher.New(switcher.Config{
		FrontSource:         cfg.Switcher.FrontSource,
		BackSource:          cfg.Switcher.BackSource,
		Threshold:           cfg.Switcher.Threshold,
		Interval:            cfg.Switcher.PollInterval(),
		RequiredProcesses:   required,
		ProcessPollInterval: cfg.Switcher.ProcessPollInterval,
		Origin:              origin,
		FollowScene:         cfg.Switcher.FollowScene,
	}, switcher.Deps{
		Tracking:  provider,
		DialScene: dial,
		Processes: procwait.ProcessTable{},
		Confirmer: confirmer,
	}, logger)

	checker.AddCheck(health.ComponentSwitcher, func() (bool, string) {
		state := sw.State()
		return state != switcher.StateStopped, state.String()
	})

	// Optional status server
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg, sw, checker, logger, version)

		go srv.WSHub().Run(ctx)

		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", "error", err)
				stop()
			}
		}()
	}

	printStartupBanner(cfg, version)

	err = sw.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
		cancel()
	}
	sw.Stop()

	if err != nil && !switcher.IsShutdown(err) {
		logger.Error("switcher failed", "error", err)
		return 1
	}

	logger.Info("vr-obs-switcher stopped")
	return 0
}

// dryRunScene builds an in-memory scene holding the two configured sources
func dryRunScene(cfg config.SwitcherConfig) *scene.MemoryProvider {
	m := scene.NewMemoryProvider("Dry Run")
	m.AddItem("Dry Run", cfg.FrontSource, true)
	m.AddItem("Dry Run", cfg.BackSource, true)
	return m
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🥽 vr-obs-switcher v" + version)
	fmt.Printf("   front: %q  back: %q  threshold: ±%g°\n",
		cfg.Switcher.FrontSource, cfg.Switcher.BackSource, cfg.Switcher.Threshold)
	fmt.Printf("   OBS: %s:%d  tracking: %s\n", cfg.OBS.Host, cfg.OBS.Port, cfg.Tracking.Provider)
	fmt.Println()
	if cfg.Server.Enabled {
		fmt.Printf("🚀 Status at http://0.0.0.0:%d\n", cfg.Server.Port)
		fmt.Println()
		fmt.Println("   Endpoints:")
		fmt.Println("   GET  /health               - Health check")
		fmt.Println("   GET  /api/status           - Current heading and visible source")
		fmt.Println("   WS   /api/heading/stream   - Real-time heading stream")
		fmt.Println("   GET  /api/stats            - Switcher statistics")
		fmt.Println("   GET  /metrics              - Prometheus metrics")
		fmt.Println()
	}
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
