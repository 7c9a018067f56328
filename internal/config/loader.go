package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hushgate/internal/safety"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"moderation":    {"openai"},
	"transcription": {"openai", "whisper"},
}

var languageRE = regexp.MustCompile(`^[a-z]{2}$`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transcription.MaxUploadBytes == 0 {
		cfg.Transcription.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = DefaultSweepInterval
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// BuildThresholds builds the threshold table described by the moderation section.
func (c ModerationConfig) BuildThresholds() (safety.Thresholds, error) {
	return safety.NewThresholds(safety.Level(c.Level), c.Thresholds)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.Moderation.Name == "" {
		errs = append(errs, errors.New("providers.moderation.name is required"))
	}
	if cfg.Providers.Transcription.Name == "" {
		errs = append(errs, errors.New("providers.transcription.name is required"))
	}
	validateProviderName("moderation", cfg.Providers.Moderation.Name)
	validateProviderName("transcription", cfg.Providers.Transcription.Name)
	validateProviderName("transcription", cfg.Providers.TranscriptionFallback.Name)
	if cfg.Providers.Transcription.Name == "whisper" && cfg.Providers.Transcription.BaseURL == "" {
		errs = append(errs, errors.New("providers.transcription.base_url is required for whisper"))
	}
	if fb := cfg.Providers.TranscriptionFallback; fb.Name == "whisper" && fb.BaseURL == "" {
		errs = append(errs, errors.New("providers.transcription_fallback.base_url is required for whisper"))
	}

	// Moderation
	m := cfg.Moderation
	if _, err := m.BuildThresholds(); err != nil {
		errs = append(errs, fmt.Errorf("moderation: %w", err))
	}
	if m.DisableBuiltinRules && m.RulesFile == "" {
		slog.Warn("moderation.disable_builtin_rules is set without a rules_file; only provider scores will be used")
	}
	if m.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("moderation.requests_per_second %v must not be negative", m.RequestsPerSecond))
	}
	if m.Burst < 0 {
		errs = append(errs, fmt.Errorf("moderation.burst %d must not be negative", m.Burst))
	}
	if m.Timeout < 0 {
		errs = append(errs, fmt.Errorf("moderation.timeout %v must not be negative", m.Timeout))
	}

	// Transcription
	t := cfg.Transcription
	if t.Language != "" && !languageRE.MatchString(t.Language) {
		errs = append(errs, fmt.Errorf("transcription.language %q is not an ISO 639-1 code", t.Language))
	}
	if n := utf8.RuneCountInString(t.Prompt); n > transcription.MaxPromptLength {
		errs = append(errs, fmt.Errorf("transcription.prompt has %d characters, max %d", n, transcription.MaxPromptLength))
	}
	if t.Temperature < 0 || t.Temperature > 1 {
		errs = append(errs, fmt.Errorf("transcription.temperature %v is out of range [0, 1]", t.Temperature))
	}
	if t.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_upload_bytes %d must not be negative", t.MaxUploadBytes))
	}
	if t.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %v must not be negative", t.Timeout))
	}

	// Cache
	c := cfg.Cache
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %v must be positive", c.TTL))
	}
	if c.Entries() < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", c.Entries()))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("cache.sweep_interval %v must be positive", c.SweepInterval))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("cache.redis.db %d must not be negative", c.Redis.DB))
	}

	// Audit
	if cfg.Audit.File == "" && cfg.Audit.PostgresDSN == "" {
		slog.Warn("audit is not configured; verdicts will not be recorded")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
