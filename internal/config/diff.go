package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TrackerChanged is true when character selection limits changed.
	TrackerChanged bool
	NewTracker     TrackerConfig

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TrackerChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Tracker.MaxNPCs != new.Tracker.MaxNPCs || old.Tracker.ScanDepth != new.Tracker.ScanDepth {
		d.TrackerChanged = true
		d.NewTracker = new.Tracker
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameOracle(old.Oracle, new.Oracle) {
		d.RestartRequired = append(d.RestartRequired, "oracle")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Persistence != new.Persistence {
		d.RestartRequired = append(d.RestartRequired, "persistence")
	}
	if old.Resolver != new.Resolver {
		d.RestartRequired = append(d.RestartRequired, "resolver")
	}
	if old.Tracker.DivergenceThreshold != new.Tracker.DivergenceThreshold ||
		old.Tracker.Setting != new.Tracker.Setting || old.Tracker.StartDate != new.Tracker.StartDate {
		d.RestartRequired = append(d.RestartRequired, "tracker")
	}

	return d
}

// sameOracle compares the scalar oracle settings. Options maps are not
// compared.
func sameOracle(a, b OracleConfig) bool {
	if !sameEntry(a.ProviderEntry, b.ProviderEntry) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return a.Temperature == b.Temperature && a.MaxTokens == b.MaxTokens && a.BlockTag == b.BlockTag
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
