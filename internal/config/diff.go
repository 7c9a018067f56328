package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs.
// Only the log level is applied on reload; every other section is reported
// in RestartRequired so the operator can be told to restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart, in schema order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !moderationEqual(old.Moderation, new.Moderation) {
		d.RestartRequired = append(d.RestartRequired, "moderation")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if old.Cache.TTL != new.Cache.TTL ||
		old.Cache.Entries() != new.Cache.Entries() ||
		old.Cache.SweepInterval != new.Cache.SweepInterval ||
		old.Cache.Redis != new.Cache.Redis {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Audit != new.Audit {
		d.RestartRequired = append(d.RestartRequired, "audit")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func moderationEqual(a, b ModerationConfig) bool {
	return a.Level == b.Level &&
		maps.Equal(a.Thresholds, b.Thresholds) &&
		a.RulesFile == b.RulesFile &&
		a.DisableBuiltinRules == b.DisableBuiltinRules &&
		a.RequestsPerSecond == b.RequestsPerSecond &&
		a.Burst == b.Burst &&
		a.Timeout == b.Timeout
}
