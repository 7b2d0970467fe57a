package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/retry"
)

const truncationMarker = "\n\n[Content truncated for length...]"

// SummarizeConfig bounds the summarization stage.
type SummarizeConfig struct {
	Workers           int
	Retry             retry.Policy
	RunTimeout        time.Duration
	MaxRetryRuns      int
	MaxInputChars     int
	RequestsPerMinute int
}

type summarizeOutcome int

const (
	outcomeSummarized summarizeOutcome = iota
	outcomeFailed
	outcomeDeferred
	outcomeSkipped
)

// SummarizeStage drives Scraped items through the summarizer with bounded concurrency.
type SummarizeStage struct {
	store      ports.ItemStore
	summarizer ports.Summarizer
	metrics    ports.Metrics
	cfg        SummarizeConfig
	limiter    *rate.Limiter
	sleep      retry.Sleeper
	logger     *slog.Logger
}

// NewSummarizeStage wires the stage. sleep may be nil for the real clock.
func NewSummarizeStage(store ports.ItemStore, summarizer ports.Summarizer, metrics ports.Metrics, cfg SummarizeConfig, sleep retry.Sleeper, logger *slog.Logger) *SummarizeStage {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = retry.Sleep
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &SummarizeStage{
		store:      store,
		summarizer: summarizer,
		metrics:    metrics,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, cfg.Workers),
		sleep:      sleep,
		logger:     logger,
	}
}

// Run requeues eligible failed items, then summarizes every Scraped item. Per-item
// failures become item state; only store errors are returned.
func (s *SummarizeStage) Run(ctx context.Context, rc *RunContext) error {
	if s.summarizer == nil {
		return errors.New("summarizer is not configured")
	}

	requeued, err := s.requeue(ctx)
	if err != nil {
		return err
	}
	rc.Diagnostics.Requeued += requeued

	// issueCtx stops new requests at the run timeout; requests already sent use ctx.
	issueCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.RunTimeout > 0 {
		issueCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	}
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		storeErr error
		sem      = make(chan struct{}, s.cfg.Workers)
	)

	record := func(outcome summarizeOutcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeSummarized:
			rc.Diagnostics.Summarized++
		case outcomeFailed:
			rc.Diagnostics.SummarizeFailed++
		case outcomeDeferred:
			rc.Diagnostics.Deferred++
		case outcomeSkipped:
			rc.Diagnostics.Skipped++
		}
		if err != nil && storeErr == nil {
			storeErr = err
		}
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return storeErr != nil
	}

dispatch:
	for item, err := range s.store.ListByStage(ctx, domain.StageScraped) {
		if err != nil {
			mu.Lock()
			storeErr = fmt.Errorf("list scraped items: %w", err)
			mu.Unlock()
			break
		}
		if failed() {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-issueCtx.Done():
			s.logger.Warn("summarize run timeout reached, leaving remaining items for the next run")
			break dispatch
		}

		wg.Add(1)
		go func(item domain.Item) {
			defer wg.Done()
			defer func() { <-sem }()
			record(s.process(ctx, issueCtx, item))
		}(item)
	}

	wg.Wait()

	if storeErr != nil {
		return storeErr
	}
	return ctx.Err()
}

// requeue moves transiently failed items back to Scraped while they have run budget left.
func (s *SummarizeStage) requeue(ctx context.Context) (int, error) {
	var eligible []domain.Item
	for item, err := range s.store.ListByStage(ctx, domain.StageSummarizeFailed) {
		if err != nil {
			return 0, fmt.Errorf("list failed items: %w", err)
		}
		if item.Retryable && item.FailedRuns <= s.cfg.MaxRetryRuns {
			eligible = append(eligible, item)
		}
	}

	requeued := 0
	for _, item := range eligible {
		applied, err := transition(ctx, s.store, item.Fingerprint, domain.StageSummarizeFailed, domain.StageScraped,
			domain.ItemUpdate{ResetErrors: true})
		if err != nil {
			return requeued, fmt.Errorf("requeue %s: %w", item.Fingerprint, err)
		}
		if applied {
			requeued++
			s.metrics.RecordTransition(domain.StageScraped)
			s.logger.Info("requeued failed item", "fingerprint", item.Fingerprint, "failed_runs", item.FailedRuns)
		}
	}
	return requeued, nil
}

func (s *SummarizeStage) process(ctx, issueCtx context.Context, item domain.Item) (summarizeOutcome, error) {
	log := s.logger.With("fingerprint", item.Fingerprint, "source", item.Source)
	text := truncate(item.SummaryInput(), s.cfg.MaxInputChars)

	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(issueCtx); err != nil {
			return outcomeDeferred, ctx.Err()
		}

		summary, err := s.summarizer.Summarize(ctx, item.Title, text)
		if err == nil && strings.TrimSpace(summary) == "" {
			err = domain.Transient(errors.New("empty summary"))
		}

		if err == nil {
			s.metrics.RecordSummarizeAttempt("success")
			return s.finish(ctx, item, domain.StageSummarized, domain.ItemUpdate{
				Summary:     domain.StringPtr(strings.TrimSpace(summary)),
				ResetErrors: true,
				LastError:   domain.StringPtr(""),
			}, outcomeSummarized)
		}

		if ctx.Err() != nil {
			return outcomeDeferred, ctx.Err()
		}

		if domain.IsPermanent(err) {
			s.metrics.RecordSummarizeAttempt("permanent")
			log.Warn("summarizer rejected item", "error", err)
			return s.finish(ctx, item, domain.StageSummarizeFailed, domain.ItemUpdate{
				IncrementErrors:     true,
				IncrementFailedRuns: true,
				Retryable:           domain.BoolPtr(false),
				LastError:           domain.StringPtr(err.Error()),
			}, outcomeFailed)
		}

		s.metrics.RecordSummarizeAttempt("transient")
		if attempt >= s.cfg.Retry.MaxAttempts {
			log.Warn("summarize attempts exhausted", "attempts", attempt, "error", err)
			return s.finish(ctx, item, domain.StageSummarizeFailed, domain.ItemUpdate{
				IncrementErrors:     true,
				IncrementFailedRuns: true,
				Retryable:           domain.BoolPtr(true),
				LastError:           domain.StringPtr(err.Error()),
			}, outcomeFailed)
		}

		applied, uerr := transition(ctx, s.store, item.Fingerprint, domain.StageScraped, domain.StageScraped, domain.ItemUpdate{
			IncrementErrors: true,
			LastError:       domain.StringPtr(err.Error()),
		})
		if uerr != nil {
			return outcomeSkipped, uerr
		}
		if !applied {
			return outcomeSkipped, nil
		}

		delay := s.cfg.Retry.Delay(attempt)
		log.Debug("transient summarize failure", "attempt", attempt, "retry_in", delay, "error", err)
		if err := s.sleep(issueCtx, delay); err != nil {
			return outcomeDeferred, ctx.Err()
		}
	}
}

func (s *SummarizeStage) finish(ctx context.Context, item domain.Item, to domain.Stage, update domain.ItemUpdate, outcome summarizeOutcome) (summarizeOutcome, error) {
	applied, err := transition(ctx, s.store, item.Fingerprint, domain.StageScraped, to, update)
	if err != nil {
		return outcomeSkipped, err
	}
	if !applied {
		return outcomeSkipped, nil
	}
	s.metrics.RecordTransition(to)
	return outcome, nil
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}
