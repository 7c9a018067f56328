package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/hushgate/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		extra   string
		base    string
		wantErr string
	}{
		{name: "minimal", base: minimalYAML},
		{
			name:    "providers required",
			base:    "server:\n  log_level: info\n",
			wantErr: "providers.moderation.name is required",
		},
		{
			name:    "invalid log level",
			extra:   "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "whisper needs base url",
			base:    "providers:\n  moderation:\n    name: openai\n  transcription:\n    name: whisper\n",
			wantErr: "base_url is required for whisper",
		},
		{
			name:    "unknown level",
			extra:   "moderation:\n  level: paranoid\n",
			wantErr: "unknown moderation level",
		},
		{
			name:    "threshold out of range",
			extra:   "moderation:\n  thresholds:\n    sexual: 1.5\n",
			wantErr: "must be in (0, 1]",
		},
		{
			name:    "minors must be strictest",
			extra:   "moderation:\n  thresholds:\n    hate: 0.001\n",
			wantErr: "must be the strictest",
		},
		{
			name:    "negative rate",
			extra:   "moderation:\n  requests_per_second: -1\n",
			wantErr: "requests_per_second",
		},
		{
			name:    "language not iso",
			extra:   "transcription:\n  language: english\n",
			wantErr: "ISO 639-1",
		},
		{
			name:    "prompt too long",
			extra:   "transcription:\n  prompt: \"" + strings.Repeat("a", 225) + "\"\n",
			wantErr: "max 224",
		},
		{
			name:    "temperature out of range",
			extra:   "transcription:\n  temperature: 1.5\n",
			wantErr: "temperature",
		},
		{
			name:    "negative ttl",
			extra:   "cache:\n  ttl: -1s\n",
			wantErr: "cache.ttl",
		},
		{
			name:    "negative max entries",
			extra:   "cache:\n  max_entries: -5\n",
			wantErr: "cache.max_entries",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			base := tt.base
			if base == "" {
				base = minimalYAML
			}
			_, err := config.LoadFromReader(strings.NewReader(base + tt.extra))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
transcription:
  temperature: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "providers.moderation.name", "providers.transcription.name", "temperature"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"moderation", "transcription"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
