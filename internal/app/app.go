// Package app wires all hushgate subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run serves the ops endpoints and supervises the background loops,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRecorder,
// WithMirror, WithMetrics, etc.). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hushgate/internal/audit"
	"github.com/MrWong99/hushgate/internal/cache"
	"github.com/MrWong99/hushgate/internal/cache/redismirror"
	"github.com/MrWong99/hushgate/internal/config"
	"github.com/MrWong99/hushgate/internal/gateway"
	"github.com/MrWong99/hushgate/internal/health"
	"github.com/MrWong99/hushgate/internal/observe"
	"github.com/MrWong99/hushgate/internal/resilience"
	"github.com/MrWong99/hushgate/internal/safety"
	"github.com/MrWong99/hushgate/internal/safety/pattern"
	"github.com/MrWong99/hushgate/pkg/audio"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// Providers holds the external backends. Populated by main.go via the config
// registry. TranscriptionFallback may be nil.
type Providers struct {
	Moderation     moderation.Provider
	ModerationName string

	Transcription     transcription.Provider
	TranscriptionName string

	TranscriptionFallback     transcription.Provider
	TranscriptionFallbackName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry  *observe.Telemetry
	metrics    *observe.Metrics
	normalizer audio.Normalizer
	recorder   audit.Recorder
	mirror     cache.Mirror[gateway.Entry]
	cache      *cache.Cache[gateway.Entry]
	verdicts   *cache.Cache[safety.Verdict]
	fuser      *safety.Fuser
	modGuard   *resilience.ModerationGuard
	sttGroup   *resilience.TranscriptionFallback
	gateway    *gateway.Gateway
	janitor    *cache.Janitor
	health     *health.Handler
	server     *http.Server
	watcher    *config.Watcher

	configPath string
	levelVar   *slog.LevelVar
	checkers   []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecorder injects an audit recorder instead of building the file and
// Postgres stores from config.
func WithRecorder(r audit.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithMirror injects a shared result mirror instead of dialing Redis.
func WithMirror(m cache.Mirror[gateway.Entry]) Option {
	return func(a *App) { a.mirror = m }
}

// WithMetrics injects a metrics instance. The OTel SDK and the /metrics
// endpoint are only set up when no metrics are injected.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithNormalizer injects an audio normalizer instead of the ffmpeg-backed
// format router.
func WithNormalizer(n audio.Normalizer) Option {
	return func(a *App) { a.normalizer = n }
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. If New fails, the
// resources acquired so far are released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil || providers.Moderation == nil || providers.Transcription == nil {
		return nil, errors.New("app: moderation and transcription providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Decision fuser ────────────────────────────────────────────────
	if err := a.initFuser(); err != nil {
		return nil, fmt.Errorf("app: init moderation: %w", err)
	}

	// ── 3. Transcription + normalizer ────────────────────────────────────
	a.initTranscription()

	// ── 4. Result cache ──────────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 5. Audit trail ───────────────────────────────────────────────────
	if err := a.initAudit(ctx); err != nil {
		return nil, fmt.Errorf("app: init audit: %w", err)
	}

	// ── 6. Gateway ───────────────────────────────────────────────────────
	temp := cfg.Transcription.Temperature
	a.gateway, err = gateway.New(a.normalizer, a.sttGroup, a.fuser, a.cache,
		gateway.WithRecorder(a.recorder),
		gateway.WithVerdictCache(a.verdicts),
		gateway.WithMetrics(a.metrics),
		gateway.WithTranscriberName(providers.TranscriptionName),
		gateway.WithDefaults(gateway.TranscriptionOptions{
			Language:    cfg.Transcription.Language,
			Prompt:      cfg.Transcription.Prompt,
			Temperature: &temp,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 7. Ops surface ───────────────────────────────────────────────────
	a.initOps()

	// ── 8. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		a.watcher, err = config.NewWatcher(a.configPath, func(old, new *config.Config) {
			a.ApplyConfig(old, new)
		})
		if err != nil {
			return nil, fmt.Errorf("app: init watcher: %w", err)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel SDK with a Prometheus bridge unless metrics
// were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: a.cfg.Telemetry.ServiceName})
	if err != nil {
		return err
	}
	a.telemetry = tel
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(sctx)
	})
	a.metrics, err = observe.NewMetrics(tel.MeterProvider)
	return err
}

// initFuser builds the pattern matcher, thresholds and the guarded score
// provider.
func (a *App) initFuser() error {
	mc := a.cfg.Moderation
	matcher, err := pattern.Build(!mc.DisableBuiltinRules, mc.RulesFile)
	if err != nil {
		return err
	}
	th, err := mc.BuildThresholds()
	if err != nil {
		return err
	}

	a.modGuard = resilience.NewModerationGuard(a.providers.Moderation, a.providers.ModerationName, resilience.GuardConfig{
		CircuitBreaker:    resilience.CircuitBreakerConfig{Metrics: a.metrics},
		RequestsPerSecond: mc.RequestsPerSecond,
		Burst:             mc.Burst,
	})
	a.fuser, err = safety.NewFuser(matcher, a.modGuard, th,
		safety.WithMetrics(a.metrics),
		safety.WithProviderName(a.providers.ModerationName),
	)
	if err != nil {
		return err
	}
	slog.Info("moderation ready",
		"provider", a.providers.ModerationName,
		"rules", len(matcher.Categories()),
		"level", mc.Level,
	)
	return nil
}

// initTranscription builds the failover group and the audio normalizer.
func (a *App) initTranscription() {
	p := a.providers
	a.sttGroup = resilience.NewTranscriptionFallback(p.Transcription, p.TranscriptionName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Metrics: a.metrics},
	})
	if p.TranscriptionFallback != nil {
		a.sttGroup.AddFallback(p.TranscriptionFallbackName, p.TranscriptionFallback)
	}

	if a.normalizer == nil {
		a.normalizer = audio.NewFormatRouter(
			audio.WithMaxBytes(a.cfg.Transcription.MaxUploadBytes),
			audio.WithCompressedNormalizer(&audio.CommandNormalizer{Path: a.cfg.Transcription.FFmpegPath}),
		)
	}
}

// initCache builds the result cache, dialing the Redis mirror when configured,
// and the text verdict cache.
func (a *App) initCache(ctx context.Context) error {
	cc := a.cfg.Cache
	if a.mirror == nil && cc.Redis.Addr != "" {
		m, err := redismirror.Dial[gateway.Entry](ctx, redismirror.Options{
			Addr:      cc.Redis.Addr,
			Password:  cc.Redis.Password,
			DB:        cc.Redis.DB,
			KeyPrefix: cc.Redis.KeyPrefix,
		})
		if err != nil {
			return err
		}
		a.mirror = m
		a.closers = append(a.closers, m.Close)
		a.checkers = append(a.checkers, health.FromOptional("redis", m))
		slog.Info("result mirror connected", "addr", cc.Redis.Addr)
	}

	opts := []cache.Option[gateway.Entry]{
		cache.WithTTL[gateway.Entry](cc.TTL),
		cache.WithMaxEntries[gateway.Entry](cc.Entries()),
		cache.WithMetrics[gateway.Entry](a.metrics),
	}
	if a.mirror != nil {
		opts = append(opts, cache.WithMirror(a.mirror))
	}
	c, err := cache.New(opts...)
	if err != nil {
		return err
	}
	a.cache = c

	a.verdicts, err = cache.New(
		cache.WithName[safety.Verdict]("verdicts"),
		cache.WithTTL[safety.Verdict](cc.TTL),
		cache.WithMaxEntries[safety.Verdict](cc.Entries()),
		cache.WithMetrics[safety.Verdict](a.metrics),
	)
	if err != nil {
		return err
	}
	a.janitor = cache.NewJanitor(cache.Sweepers{c, a.verdicts}, cc.SweepInterval)
	a.checkers = append(a.checkers, health.From("cache", c))
	return nil
}

// initAudit opens the configured audit stores unless a recorder was injected.
func (a *App) initAudit(ctx context.Context) error {
	if a.recorder != nil {
		return nil
	}
	var recorders []audit.Recorder
	if path := a.cfg.Audit.File; path != "" {
		fs := audit.NewFileStore(path)
		recorders = append(recorders, fs)
		a.checkers = append(a.checkers, health.From("audit_file", fs))
	}
	if dsn := a.cfg.Audit.PostgresDSN; dsn != "" {
		store, pool, err := audit.OpenPostgres(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		recorders = append(recorders, store)
		a.checkers = append(a.checkers, health.From("audit_postgres", store))
	}
	if len(recorders) == 0 {
		a.recorder = audit.Nop{}
		return nil
	}
	a.recorder = audit.Multi(recorders...)
	return nil
}

// initOps builds the health handler and the ops HTTP server.
func (a *App) initOps() {
	a.checkers = append(a.checkers, health.From("moderation_breaker", a.modGuard.Breaker()))
	breakers := a.sttGroup.Breakers()
	for _, b := range breakers {
		c := health.From("transcription_breaker_"+b.Name(), b)
		// One open backend is survivable while another remains.
		c.Optional = len(breakers) > 1
		a.checkers = append(a.checkers, c)
	}

	a.health = health.New(a.checkers, health.WithInfo(func() any { return a.cache.Stats() }))

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler())
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Gateway returns the moderation gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Handler returns the ops HTTP handler (/healthz, /readyz, /metrics).
func (a *App) Handler() http.Handler { return a.server.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the ops endpoints and runs the cache janitor and the config
// watcher until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ops server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	g.Go(func() error { return a.janitor.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("hushgate running",
		"moderation", a.providers.ModerationName,
		"transcription", a.providers.TranscriptionName,
		"fallback", a.providers.TranscriptionFallbackName,
	)
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable part of a config change and logs
// the sections that need a restart.
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
	return d
}

// ParseLevel maps a config log level to slog. Unknown values map to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases resources after a failed New.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
