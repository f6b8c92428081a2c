package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (PNPCOORD_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", os.Getenv("PNPCOORD_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("scenario", os.Getenv("PNPCOORD_SCENARIO"), &cfg.Scenario)
	s.setString("instance", os.Getenv("PNPCOORD_INSTANCE"), &cfg.Instance)
	s.setString("flags-file", os.Getenv("PNPCOORD_FLAGS_FILE"), &cfg.FlagsFile)
	s.setString("flag-store", os.Getenv("PNPCOORD_FLAG_STORE"), &cfg.FlagStore)
	s.setString("capabilities", os.Getenv("PNPCOORD_CAPABILITIES"), &cfg.Capabilities)
	s.setString("metrics-addr", os.Getenv("PNPCOORD_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setDuration("latency", os.Getenv("PNPCOORD_LATENCY"), &cfg.Latency); err != nil {
		return err
	}
	if err := s.setDuration("drain-timeout", os.Getenv("PNPCOORD_DRAIN_TIMEOUT"), &cfg.DrainTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("iterations", os.Getenv("PNPCOORD_ITERATIONS"), &cfg.Iterations); err != nil {
		return err
	}
	if err := s.setIntFromString("workers", os.Getenv("PNPCOORD_WORKERS"), &cfg.Workers); err != nil {
		return err
	}
	if err := s.setIntFromString("deferred-capacity", os.Getenv("PNPCOORD_DEFERRED_CAPACITY"), &cfg.DeferredCapacity); err != nil {
		return err
	}

	s.setBoolFromString("log-json", os.Getenv("PNPCOORD_LOG_JSON"), &cfg.LogJSON)
	s.setBoolFromString("watch-flags", os.Getenv("PNPCOORD_WATCH_FLAGS"), &cfg.WatchFlags)

	return nil
}
