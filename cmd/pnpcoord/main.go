package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/pnpcoord/internal/adapters/prom"
	"github.com/bft-labs/pnpcoord/internal/adapters/sqlite"
	"github.com/bft-labs/pnpcoord/internal/cliconfig"
	"github.com/bft-labs/pnpcoord/internal/scenario"
	"github.com/bft-labs/pnpcoord/pkg/device"
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/plugins/flagwatcher"
)

const longHelp = `Drive device instances through plug-and-play and power transitions
against a simulated lower layer and check that every request, drain and
wake flow ends where it should.

Scenarios:
  lifecycle  start, drained stop, cancel, restart and removal
  power      system suspend/resume with work parked while suspended
  wake       wake arming, wake signals and the persisted wake flag
  stress     concurrent submitters racing power and stop transitions
  all        every scenario above, in order`

var exampleUsage = strings.TrimSpace(`
  pnpcoord --scenario power --iterations 50
  pnpcoord --flag-store toml --flags-file /tmp/flags.toml --watch-flags --scenario wake
  pnpcoord --config $HOME/.pnpcoord/config.toml --metrics-addr :9100
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	boot := cliconfig.Logger()

	root := &cobra.Command{
		Use:          "pnpcoord",
		Short:        "Exercise the device lifecycle and power coordinator",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment (PNPCOORD_*) overrides the file; flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			zl := cliconfig.NewLogger(os.Stderr, cfg)
			zl.Info().Interface("config", cfg).Msg("configuration")
			logger := log.NewZerologAdapterWithLogger(zl)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.pnpcoord/config.toml)")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	root.Flags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as JSON instead of console output")

	root.Flags().StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "scenario to run: "+strings.Join(scenario.Names(), ", ")+" or all")
	root.Flags().IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "iterations per scenario")
	root.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent submitters in the stress scenario")
	root.Flags().StringVar(&cfg.Instance, "instance", cfg.Instance, "instance name prefix")
	root.Flags().DurationVar(&cfg.Latency, "latency", cfg.Latency, "simulated lower-layer I/O latency")

	root.Flags().StringVar(&cfg.FlagStore, "flag-store", cfg.FlagStore, "flag store backend: memory, toml or sqlite")
	root.Flags().StringVar(&cfg.FlagsFile, "flags-file", cfg.FlagsFile, "flag file for the toml or sqlite store (default: $HOME/.pnpcoord/flags.*)")
	root.Flags().BoolVar(&cfg.WatchFlags, "watch-flags", cfg.WatchFlags, "re-apply flags when the toml flag file changes")

	root.Flags().StringVar(&cfg.Capabilities, "capabilities", cfg.Capabilities, "YAML capabilities reported by the simulated lower layer")
	root.Flags().IntVar(&cfg.DeferredCapacity, "deferred-capacity", cfg.DeferredCapacity, "deferred work queue capacity")
	root.Flags().DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "bound on stop and remove drains (0 waits forever)")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address while running")

	if err := root.Execute(); err != nil {
		boot.Error().Err(err).Msg("pnpcoord")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliconfig.Config, logger log.Logger) error {
	store, closeStore, err := openFlagStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	scfg := scenario.DefaultConfig()
	scfg.Iterations = cfg.Iterations
	scfg.Workers = cfg.Workers
	scfg.Latency = cfg.Latency
	scfg.Device.Name = cfg.Instance
	scfg.Device.DeferredCapacity = cfg.DeferredCapacity
	scfg.Device.DrainTimeout = cfg.DrainTimeout
	if cfg.Capabilities != "" {
		caps, err := power.LoadCapabilities(cfg.Capabilities)
		if err != nil {
			return err
		}
		scfg.Capabilities = caps
	}

	runnerOpts := []scenario.Option{
		scenario.WithLogger(logger),
		scenario.WithFlagStore(store),
	}
	if cfg.WatchFlags {
		runnerOpts = append(runnerOpts, scenario.WithPluginFactory(func() device.Plugin {
			return flagwatcher.New(flagwatcher.Config{Path: cfg.FlagsFile})
		}))
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		registry, err := prom.NewRegistry(reg)
		if err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, scenario.WithDeviceOptions(
			device.WithRegistry(registry),
			device.WithEventHandler(registry),
		))

		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", log.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", log.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runner := scenario.NewRunner(scfg, runnerOpts...)
	results, err := runner.Run(ctx, cfg.Scenario)
	for _, res := range results {
		fmt.Printf("%-10s %4d iterations %7d requests %12s\n",
			res.Name, res.Iterations, res.Requests, res.Duration.Round(time.Microsecond))
	}
	return err
}

// openFlagStore opens the configured flag store backend.
func openFlagStore(cfg cliconfig.Config) (flags.Store, func(), error) {
	switch cfg.FlagStore {
	case cliconfig.FlagStoreTOML:
		// The flag watcher needs the directory to exist before the first write.
		if err := os.MkdirAll(filepath.Dir(cfg.FlagsFile), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create flag directory: %w", err)
		}
		return flags.NewFileStore(cfg.FlagsFile), func() {}, nil
	case cliconfig.FlagStoreSQLite:
		s, err := sqlite.Open(cfg.FlagsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open flag database: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return flags.NewMemoryStore(), func() {}, nil
	}
}
