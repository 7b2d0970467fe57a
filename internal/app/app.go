package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/delivery"
	"NewsDigest/internal/infrastructure/httpserver"
	"NewsDigest/internal/infrastructure/llm"
	"NewsDigest/internal/infrastructure/metrics"
	"NewsDigest/internal/infrastructure/ml"
	"NewsDigest/internal/infrastructure/parser"
	"NewsDigest/internal/infrastructure/scheduler"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/infrastructure/telegram"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/retry"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/usecase"
)

// Options overrides pieces of the wiring, mostly for tests.
type Options struct {
	Source     ports.ItemSource
	Summarizer ports.Summarizer
	Deliverer  ports.Deliverer
	Out        io.Writer
	Clock      func() time.Time
	Sleep      retry.Sleeper
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	items     *storage.ItemRepository
	digests   *storage.DigestRepository
	registry  *prometheus.Registry
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	clock     func() time.Time
}

// New migrates the database, opens it and builds every adapter the pipeline needs.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(dialect, cfg.Database.DSN); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := storage.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	app := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		items:    storage.NewItemRepository(db, dialect),
		digests:  storage.NewDigestRepository(db, dialect),
		registry: prometheus.NewRegistry(),
		clock:    opts.Clock,
	}
	if app.clock == nil {
		app.clock = time.Now
	}

	source := opts.Source
	if source == nil {
		if source, err = newSource(cfg, baseLogger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	summarizer := opts.Summarizer
	if summarizer == nil {
		if summarizer, err = newSummarizer(cfg.Summarizer); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	deliverer := opts.Deliverer
	if deliverer == nil {
		if deliverer, err = newDeliverer(cfg, opts.Out, baseLogger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	app.pipeline, err = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Items:      app.items,
		Digests:    app.digests,
		Summarizer: summarizer,
		Deliverer:  deliverer,
		Metrics:    metrics.NewCollector(app.registry),
		Logger:     baseLogger.With("component", "pipeline"),
		Summarize:  summarizeConfig(cfg.Summarizer),
		Curation:   curationPolicy(cfg.Curation),
		Recipients: cfg.Delivery.Recipients,
		Location:   cfg.Scheduler.Location(),
		Clock:      app.clock,
		Sleep:      opts.Sleep,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	driver := scheduler.NewCronScheduler(
		cfg.Scheduler.CronExpression,
		cfg.Scheduler.Location(),
		cfg.Scheduler.RunOnStart,
		baseLogger.With("component", "scheduler"),
	)
	app.scheduler = usecase.NewScheduler(driver, app.pipeline, baseLogger.With("component", "scheduler"))

	return app, nil
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.db.Close()
}

// Run executes the pipeline once for runDate, or for today in the scheduler timezone when empty.
func (a *Application) Run(ctx context.Context, runDate domain.RunDate) (usecase.RunReport, error) {
	if runDate == "" {
		return a.pipeline.ProcessDay(ctx, a.clock())
	}
	return a.pipeline.Run(ctx, runDate)
}

// Redeliver retries delivery of an existing digest.
func (a *Application) Redeliver(ctx context.Context, runDate domain.RunDate) (usecase.RunReport, error) {
	return a.pipeline.Redeliver(ctx, runDate)
}

// Status reports item counts per stage and, when runDate is set, that day's digest.
func (a *Application) Status(ctx context.Context, runDate domain.RunDate) (map[domain.Stage]int, *domain.Digest, error) {
	counts, err := a.items.StageCounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	if runDate == "" {
		return counts, nil, nil
	}

	digest, err := a.digests.Get(ctx, runDate)
	if errors.Is(err, domain.ErrDigestNotFound) {
		return counts, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return counts, &digest, nil
}

// Handler is the HTTP surface used by Serve.
func (a *Application) Handler() http.Handler {
	return httpserver.NewRouter(httpserver.Deps{
		Items:   a.items,
		Digests: a.digests,
		Metrics: metrics.Handler(a.registry),
		Logger:  a.logger.With("component", "http"),
	})
}

// Serve starts the cron schedule and the HTTP listener and blocks until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	return serveErr
}

func newSource(cfg config.Config, logger *slog.Logger) (*parser.StrategySource, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	ua := cfg.Scrape.UserAgent

	registry := scanner.NewRegistry(
		parser.NewRSSScanner(client, ua, logger.With("component", "scanner.rss")),
		parser.NewYouTubeScanner(client, ua, logger.With("component", "scanner.youtube")),
		parser.NewHTMLScanner(client, ua),
	)
	logger.Debug("scanners registered", "names", registry.Names(), "sites", len(cfg.Sites))
	return parser.NewStrategySource(registry, cfg.Sites, cfg.Scrape.Lookback, logger.With("component", "source"))
}

func newSummarizer(cfg config.SummarizerConfig) (ports.Summarizer, error) {
	switch cfg.Provider {
	case "chatgpt":
		return llm.NewChatGPTClient(cfg), nil
	case "anthropic":
		return llm.NewAnthropicClient(cfg), nil
	case "inference":
		return ml.NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
}

func newDeliverer(cfg config.Config, out io.Writer, logger *slog.Logger) (ports.Deliverer, error) {
	email := cfg.Delivery.Email
	renderer := delivery.NewRenderer(email.ReaderName, email.SubjectLine, cfg.Scheduler.Location())

	switch cfg.Delivery.Channel {
	case "email":
		return delivery.NewEmailDeliverer(email, renderer, nil), nil
	case "telegram":
		return telegram.NewNotifier(cfg.Delivery.Telegram, renderer), nil
	case "log":
		return delivery.NewConsoleDeliverer(out, renderer, logger.With("component", "delivery")), nil
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", cfg.Delivery.Channel)
	}
}

func summarizeConfig(cfg config.SummarizerConfig) usecase.SummarizeConfig {
	return usecase.SummarizeConfig{
		Workers: cfg.Workers,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		RunTimeout:        cfg.RunTimeout,
		MaxRetryRuns:      cfg.MaxRetryRuns,
		MaxInputChars:     cfg.MaxInputChars,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
}

func curationPolicy(cfg config.CurationConfig) usecase.CurationPolicy {
	profiles := make([]domain.InterestProfile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profile := domain.InterestProfile{Name: p.Name, Exclude: p.Exclude}
		for _, k := range p.Keywords {
			profile.Keywords = append(profile.Keywords, domain.KeywordWeight{Term: k.Term, Weight: k.Weight})
		}
		profiles = append(profiles, profile)
	}
	return usecase.CurationPolicy{
		Profiles: profiles,
		MinScore: cfg.MinScore,
		MaxItems: cfg.MaxItems,
		MaxAge:   cfg.MaxAge,
	}
}
