package app_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/hushgate/internal/app"
	"github.com/MrWong99/hushgate/internal/audit"
	auditmock "github.com/MrWong99/hushgate/internal/audit/mock"
	"github.com/MrWong99/hushgate/internal/config"
	"github.com/MrWong99/hushgate/internal/gateway"
	"github.com/MrWong99/hushgate/internal/observe"
	"github.com/MrWong99/hushgate/pkg/audio"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
	moderationmock "github.com/MrWong99/hushgate/pkg/provider/moderation/mock"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
	transcriptionmock "github.com/MrWong99/hushgate/pkg/provider/transcription/mock"
)

// testConfig returns a minimal config with defaults applied.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Moderation:    config.ProviderEntry{Name: "mock"},
			Transcription: config.ProviderEntry{Name: "mock"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func lowScores() moderation.Scores {
	return moderation.Scores{
		moderation.CategorySexual:       0.001,
		moderation.CategorySexualMinors: 0.0001,
		moderation.CategoryHarassment:   0.001,
		moderation.CategoryHate:         0.001,
		moderation.CategoryViolence:     0.001,
	}
}

// testProviders returns mock moderation and transcription providers.
func testProviders() *app.Providers {
	return &app.Providers{
		Moderation:        &moderationmock.Provider{Scores: lowScores()},
		ModerationName:    "mock",
		Transcription:     &transcriptionmock.Provider{Result: transcription.Result{Transcript: "see you at the cafe"}},
		TranscriptionName: "mock-stt",
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, p *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, p, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func voiceNote() []byte {
	data := make([]byte, 3200)
	for i := 0; i < len(data)/2; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16((i*7)%2000-1000)))
	}
	return audio.EncodeWAV(audio.PCM{Data: data, Format: audio.Canonical})
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("expected error without providers")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	p := testProviders()
	rec := &auditmock.Recorder{}
	a := newApp(t, testConfig(), p, app.WithRecorder(rec))

	v, err := a.Gateway().Moderate(context.Background(), "would love to grab coffee")
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if v.Flagged {
		t.Errorf("safe text flagged: %+v", v)
	}

	res, err := a.Gateway().TranscribeAndModerate(context.Background(), gateway.AudioInput{Data: voiceNote(), Format: "note.wav"})
	if err != nil {
		t.Fatalf("TranscribeAndModerate: %v", err)
	}
	if res.Transcription.Transcript != "see you at the cafe" {
		t.Errorf("transcript = %q", res.Transcription.Transcript)
	}
	if got := rec.CallCount(); got != 2 {
		t.Errorf("audit records = %d, want 2", got)
	}
}

func TestNew_TranscriptionFailover(t *testing.T) {
	t.Parallel()
	p := testProviders()
	p.Transcription = &transcriptionmock.Provider{TranscribeErr: errors.New("upstream 503")}
	fallback := &transcriptionmock.Provider{Result: transcription.Result{Transcript: "local whisper"}}
	p.TranscriptionFallback = fallback
	p.TranscriptionFallbackName = "whisper"

	a := newApp(t, testConfig(), p, app.WithRecorder(audit.Nop{}))
	res, err := a.Gateway().TranscribeAndModerate(context.Background(), gateway.AudioInput{Data: voiceNote(), Format: "wav"})
	if err != nil {
		t.Fatalf("TranscribeAndModerate: %v", err)
	}
	if res.Transcription.Transcript != "local whisper" {
		t.Errorf("transcript = %q, want fallback result", res.Transcription.Transcript)
	}
	if fallback.CallCount() != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.CallCount())
	}
}

func TestNew_AuditFileFromConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Audit.File = filepath.Join(t.TempDir(), "audit.jsonl")
	a := newApp(t, cfg, testProviders())

	if _, err := a.Gateway().Moderate(context.Background(), "hello there"); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	records, err := audit.NewFileStore(cfg.Audit.File).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 || records[0].Source != audit.SourceText {
		t.Fatalf("records = %+v", records)
	}
}

func TestNew_BadRulesFile(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Moderation.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for missing rules file")
	}
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders(), app.WithRecorder(audit.Nop{}))
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz = %d, want 200: %s", rec.Code, rec.Body)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
		Info   map[string]any    `json:"info"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{"cache", "moderation_breaker", "transcription_breaker_mock-stt"} {
		if body.Checks[name] != "ok" {
			t.Errorf("check %q = %q, want ok", name, body.Checks[name])
		}
	}
	if _, ok := body.Info["entries"]; !ok {
		t.Errorf("info should carry cache stats, got %v", body.Info)
	}

	// Metrics were injected, so no exporter endpoint is mounted.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics = %d, want 404", rec.Code)
	}
}

func TestNew_RealTelemetry(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	a, err := app.New(context.Background(), testConfig(), testProviders(), app.WithRecorder(audit.Nop{}))
	if err != nil {
		t.Fatalf("New without injected metrics: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if _, err := a.Gateway().Moderate(context.Background(), "would love to grab coffee"); err != nil {
		t.Fatalf("Moderate: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", rec.Code)
	}
	for _, want := range []string{"hushgate_verdicts", "hushgate_cache_lookups"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
	if rec.Header().Get(observe.TraceHeader) == "" {
		t.Errorf("ops response missing %s", observe.TraceHeader)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders(), app.WithRecorder(audit.Nop{}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	lv := new(slog.LevelVar)
	a := newApp(t, testConfig(), testProviders(), app.WithRecorder(audit.Nop{}), app.WithLevelVar(lv))

	old := testConfig()
	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Cache.TTL = time.Minute

	d := a.ApplyConfig(old, updated)
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if !slices.Contains(d.RestartRequired, "cache") {
		t.Errorf("RestartRequired = %v, want cache", d.RestartRequired)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), testProviders(),
		app.WithMetrics(testMetrics(t)), app.WithRecorder(audit.Nop{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
