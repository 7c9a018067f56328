// Command hushgate is the entry point for the hushgate content-safety gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MrWong99/hushgate/internal/app"
	"github.com/MrWong99/hushgate/internal/config"
	"github.com/MrWong99/hushgate/internal/gateway"
	"github.com/MrWong99/hushgate/internal/safety"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
	oamoderation "github.com/MrWong99/hushgate/pkg/provider/moderation/openai"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
	oatranscription "github.com/MrWong99/hushgate/pkg/provider/transcription/openai"
	"github.com/MrWong99/hushgate/pkg/provider/transcription/whisper"
)

// Exit codes.
const (
	exitOK              = 0
	exitError           = 1
	exitModerationError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	moderateText := flag.String("moderate", "", "moderate this text, print the verdict as JSON and exit")
	transcribePath := flag.String("transcribe", "", "transcribe and moderate this audio file and exit")
	transcribeOnly := flag.Bool("transcribe-only", false, "with -transcribe, skip moderation and print only the transcript")
	format := flag.String("format", "text", "response format for -transcribe: text, json, verbose_json, srt, vtt")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hushgate: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hushgate: %v\n", err)
		}
		return exitError
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oneShot := *moderateText != "" || *transcribePath != ""
	opts := []app.Option{app.WithLevelVar(levelVar)}
	if !oneShot {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	switch {
	case *moderateText != "":
		return runModerate(ctx, application.Gateway(), *moderateText)
	case *transcribePath != "" && *transcribeOnly:
		return runTranscribeOnly(ctx, application.Gateway(), *transcribePath, transcription.ResponseFormat(*format))
	case *transcribePath != "":
		return runTranscribe(ctx, application.Gateway(), *transcribePath, transcription.ResponseFormat(*format))
	}

	slog.Info("hushgate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(cfg)

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return exitError
	}
	slog.Info("shutdown signal received, stopping")
	return exitOK
}

// runModerate prints the verdict for text.
func runModerate(ctx context.Context, gw *gateway.Gateway, text string) int {
	v, err := gw.Moderate(ctx, text)
	if err != nil {
		return reportError("moderate", err)
	}
	return printJSON(v)
}

// runTranscribe prints the rendered transcript followed by the verdict.
func runTranscribe(ctx context.Context, gw *gateway.Gateway, path string, format transcription.ResponseFormat) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hushgate: %v\n", err)
		return exitError
	}
	res, err := gw.TranscribeAndModerate(ctx, gateway.AudioInput{
		Data:    data,
		Format:  filepath.Base(path),
		Options: gateway.TranscriptionOptions{ResponseFormat: format},
	})
	if err != nil {
		return reportError("transcribe", err)
	}
	out, err := gateway.Render(res, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hushgate: render: %v\n", err)
		return exitError
	}
	fmt.Println(out)
	return printJSON(struct {
		Fingerprint string         `json:"fingerprint"`
		Cached      bool           `json:"cached"`
		Verdict     safety.Verdict `json:"verdict"`
	}{res.Fingerprint, res.Cached, res.Verdict})
}

// runTranscribeOnly prints the rendered transcript followed by its
// fingerprint, without moderating it.
func runTranscribeOnly(ctx context.Context, gw *gateway.Gateway, path string, format transcription.ResponseFormat) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hushgate: %v\n", err)
		return exitError
	}
	res, err := gw.Transcribe(ctx, gateway.AudioInput{
		Data:    data,
		Format:  filepath.Base(path),
		Options: gateway.TranscriptionOptions{ResponseFormat: format},
	})
	if err != nil {
		return reportError("transcribe", err)
	}
	out, err := res.Render("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hushgate: render: %v\n", err)
		return exitError
	}
	fmt.Println(out)
	return printJSON(struct {
		Fingerprint string `json:"fingerprint"`
		Cached      bool   `json:"cached"`
	}{res.Fingerprint, res.Cached})
}

func reportError(op string, err error) int {
	fmt.Fprintf(os.Stderr, "hushgate: %s: %v\n", op, err)
	if safety.IsModerationError(err) {
		return exitModerationError
	}
	return exitError
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "hushgate: encode: %v\n", err)
		return exitError
	}
	return exitOK
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers every provider shipped with hushgate.
// Per-kind timeouts come from the moderation and transcription sections.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterModeration("openai", func(e config.ProviderEntry) (moderation.Provider, error) {
		var opts []oamoderation.Option
		if e.BaseURL != "" {
			opts = append(opts, oamoderation.WithBaseURL(e.BaseURL))
		}
		if cfg.Moderation.Timeout > 0 {
			opts = append(opts, oamoderation.WithTimeout(cfg.Moderation.Timeout))
		}
		return oamoderation.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTranscription("openai", func(e config.ProviderEntry) (transcription.Provider, error) {
		var opts []oatranscription.Option
		if e.BaseURL != "" {
			opts = append(opts, oatranscription.WithBaseURL(e.BaseURL))
		}
		if cfg.Transcription.Timeout > 0 {
			opts = append(opts, oatranscription.WithTimeout(cfg.Transcription.Timeout))
		}
		return oatranscription.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTranscription("whisper", func(e config.ProviderEntry) (transcription.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if cfg.Transcription.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(cfg.Transcription.Timeout))
		}
		if rms, ok := optFloat(e.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithSilenceRMS(rms))
		}
		return whisper.New(e.BaseURL, opts...)
	})
}

// buildProviders instantiates the configured providers via the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p := &app.Providers{
		ModerationName:            cfg.Providers.Moderation.Name,
		TranscriptionName:         cfg.Providers.Transcription.Name,
		TranscriptionFallbackName: cfg.Providers.TranscriptionFallback.Name,
	}
	var err error
	if p.Moderation, err = reg.CreateModeration(cfg.Providers.Moderation); err != nil {
		return nil, fmt.Errorf("moderation provider: %w", err)
	}
	if p.Transcription, err = reg.CreateTranscription(cfg.Providers.Transcription); err != nil {
		return nil, fmt.Errorf("transcription provider: %w", err)
	}
	if fb := cfg.Providers.TranscriptionFallback; fb.Name != "" {
		if p.TranscriptionFallback, err = reg.CreateTranscription(fb); err != nil {
			return nil, fmt.Errorf("transcription fallback provider: %w", err)
		}
		if p.TranscriptionFallbackName == p.TranscriptionName {
			// Breaker names must differ.
			p.TranscriptionFallbackName += "-fallback"
		}
	}
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        hushgate · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Moderation", providerLabel(cfg.Providers.Moderation))
	printRow("Transcription", providerLabel(cfg.Providers.Transcription))
	printRow("Fallback", providerLabel(cfg.Providers.TranscriptionFallback))
	level := cfg.Moderation.Level
	if level == "" {
		level = "(default)"
	}
	printRow("Level", level)
	printRow("Cache TTL", cfg.Cache.TTL.String())
	if cfg.Cache.Redis.Addr != "" {
		printRow("Redis", cfg.Cache.Redis.Addr)
	}
	switch {
	case cfg.Audit.File != "" && cfg.Audit.PostgresDSN != "":
		printRow("Audit", "file + postgres")
	case cfg.Audit.File != "":
		printRow("Audit", "file")
	case cfg.Audit.PostgresDSN != "":
		printRow("Audit", "postgres")
	default:
		printRow("Audit", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optFloat extracts a number from a provider Options map. YAML integers and
// floats are both accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
