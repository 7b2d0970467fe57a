package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/retry"
)

const includedChunk = 500

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.ItemSource
	Items      ports.ItemStore
	Digests    ports.DigestStore
	Summarizer ports.Summarizer
	Deliverer  ports.Deliverer
	Metrics    ports.Metrics
	Logger     *slog.Logger

	Summarize  SummarizeConfig
	Curation   CurationPolicy
	Recipients []string
	Location   *time.Location

	Clock func() time.Time
	Sleep retry.Sleeper
}

// Pipeline sequences scrape, store, summarize, curate, assemble and deliver for one run date.
type Pipeline struct {
	source     ports.ItemSource
	items      ports.ItemStore
	digests    ports.DigestStore
	deliverer  ports.Deliverer
	metrics    ports.Metrics
	logger     *slog.Logger
	stage      *SummarizeStage
	curator    *Curator
	assembler  *Assembler
	recipients []string
	location   *time.Location
	clock      func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Items == nil || deps.Digests == nil {
		return nil, errors.New("pipeline: item and digest stores are required")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("pipeline: deliverer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	curator, err := NewCurator(deps.Curation)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		source:     deps.Source,
		items:      deps.Items,
		digests:    deps.Digests,
		deliverer:  deps.Deliverer,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		stage:      NewSummarizeStage(deps.Items, deps.Summarizer, deps.Metrics, deps.Summarize, deps.Sleep, deps.Logger.With("stage", "summarize")),
		curator:    curator,
		assembler:  NewAssembler(deps.Digests, deps.Clock),
		recipients: deps.Recipients,
		location:   deps.Location,
		clock:      deps.Clock,
	}, nil
}

// ProcessDay runs the pipeline for the calendar day of trigger in the pipeline's timezone.
func (p *Pipeline) ProcessDay(ctx context.Context, trigger time.Time) (RunReport, error) {
	return p.Run(ctx, domain.RunDateOf(trigger.In(p.location)))
}

// Run executes one full run. When the run date already has a digest, a Sent one ends the
// run as RunSkipped, a Pending one left by an interrupted run is delivered, and a Failed
// one fails the run with domain.ErrRedeliveryRequired. A delivery failure returns
// *domain.DeliveryError and keeps all summaries and curation for Redeliver.
func (p *Pipeline) Run(ctx context.Context, runDate domain.RunDate) (RunReport, error) {
	rc := NewRunContext(runDate, p.clock(), p.location, RunScrape, p.logger)
	rc.Logger.Info("run started")

	raw := p.scrape(ctx, rc)

	if err := rc.Advance(RunStore); err != nil {
		return p.finish(rc, nil, err)
	}
	if err := p.store(ctx, rc, raw); err != nil {
		return p.finish(rc, nil, err)
	}

	if err := rc.Advance(RunSummarize); err != nil {
		return p.finish(rc, nil, err)
	}
	if err := p.stage.Run(ctx, rc); err != nil {
		return p.finish(rc, nil, fmt.Errorf("summarize: %w", err))
	}

	if err := rc.Advance(RunCurate); err != nil {
		return p.finish(rc, nil, err)
	}
	candidates, err := p.curate(ctx, rc)
	if err != nil {
		return p.finish(rc, nil, fmt.Errorf("curate: %w", err))
	}

	if err := rc.Advance(RunAssemble); err != nil {
		return p.finish(rc, nil, err)
	}
	digest, err := p.assembler.Assemble(ctx, runDate, candidates)
	var duplicate *domain.DuplicateDigestError
	if errors.As(err, &duplicate) {
		return p.resume(ctx, rc)
	}
	if err != nil {
		return p.finish(rc, nil, fmt.Errorf("assemble: %w", err))
	}
	rc.Diagnostics.DigestItems = len(digest.Items)

	if err := rc.Advance(RunDeliver); err != nil {
		return p.finish(rc, &digest, err)
	}
	return p.deliver(ctx, rc, digest)
}

// Redeliver retries delivery of an existing Pending or Failed digest. It is the explicit
// override for a digest in a terminal status; a Sent digest only gets its item stages repaired.
func (p *Pipeline) Redeliver(ctx context.Context, runDate domain.RunDate) (RunReport, error) {
	rc := NewRunContext(runDate, p.clock(), p.location, RunDeliver, p.logger)
	rc.Logger.Info("redelivery requested")

	digest, err := p.digests.Get(ctx, runDate)
	if err != nil {
		return p.finish(rc, nil, err)
	}
	rc.Diagnostics.DigestItems = len(digest.Items)

	if digest.Status == domain.DigestSent {
		if err := p.markDelivered(ctx, rc, digest); err != nil {
			return p.finish(rc, &digest, err)
		}
		_ = rc.Advance(RunComplete)
		return p.finish(rc, &digest, nil)
	}

	if err := p.curateDigestItems(ctx, digest); err != nil {
		return p.finish(rc, &digest, err)
	}
	return p.deliver(ctx, rc, digest)
}

// resume handles a run date whose digest was committed by an earlier run.
func (p *Pipeline) resume(ctx context.Context, rc *RunContext) (RunReport, error) {
	digest, err := p.digests.Get(ctx, rc.RunDate)
	if err != nil {
		return p.finish(rc, nil, fmt.Errorf("load existing digest: %w", err))
	}
	rc.Diagnostics.DigestItems = len(digest.Items)

	switch digest.Status {
	case domain.DigestSent:
		if err := p.markDelivered(ctx, rc, digest); err != nil {
			return p.finish(rc, &digest, err)
		}
		rc.Logger.Info("digest already sent for run date, nothing to do")
		_ = rc.Advance(RunSkipped)
		return p.finish(rc, &digest, nil)
	case domain.DigestFailed:
		err := fmt.Errorf("%w (last error: %s)", domain.ErrRedeliveryRequired, digest.LastError)
		return p.finish(rc, &digest, &domain.DeliveryError{RunDate: rc.RunDate, Err: err})
	}

	rc.Logger.Info("resuming delivery of an assembled digest")
	if err := p.curateDigestItems(ctx, digest); err != nil {
		return p.finish(rc, &digest, err)
	}
	if err := rc.Advance(RunDeliver); err != nil {
		return p.finish(rc, &digest, err)
	}
	return p.deliver(ctx, rc, digest)
}

// curateDigestItems moves digest items still Summarized to Curated so delivery can mark them Delivered.
func (p *Pipeline) curateDigestItems(ctx context.Context, digest domain.Digest) error {
	for _, fp := range digest.Items {
		item, err := p.items.Get(ctx, fp)
		if err != nil {
			return err
		}
		if item.Stage != domain.StageSummarized {
			continue
		}
		if _, err := transition(ctx, p.items, fp, domain.StageSummarized, domain.StageCurated, domain.ItemUpdate{}); err != nil {
			return err
		}
	}
	return nil
}

// scrape never fails the run: a broken source is logged and the others continue.
func (p *Pipeline) scrape(ctx context.Context, rc *RunContext) []domain.RawItem {
	if p.source == nil {
		return nil
	}
	raw, errs := p.source.FetchDaily(ctx, rc.Reference)
	rc.Diagnostics.Fetched = len(raw)
	for _, err := range errs {
		rc.Diagnostics.SourceErrors = append(rc.Diagnostics.SourceErrors, err.Error())
		rc.Logger.Warn("source failed", "error", err)
	}
	return raw
}

func (p *Pipeline) store(ctx context.Context, rc *RunContext, raw []domain.RawItem) error {
	for _, r := range raw {
		item := domain.NewItem(r, p.clock())
		result, err := p.items.InsertIfNew(ctx, item)
		if err != nil {
			return fmt.Errorf("store item from %s: %w", r.Source, err)
		}
		p.metrics.RecordIngest(result)
		switch result {
		case domain.Inserted:
			rc.Diagnostics.Inserted++
		case domain.AlreadyExists:
			rc.Diagnostics.Duplicates++
			rc.Logger.Debug("item already stored", "fingerprint", item.Fingerprint)
		}
	}
	return nil
}

// curate ranks Summarized items plus Curated items no digest references yet, then
// marks the winners Curated with their scores.
func (p *Pipeline) curate(ctx context.Context, rc *RunContext) ([]Candidate, error) {
	var pool []domain.Item
	for _, stage := range []domain.Stage{domain.StageSummarized, domain.StageCurated} {
		for item, err := range p.items.ListByStage(ctx, stage) {
			if err != nil {
				return nil, err
			}
			pool = append(pool, item)
		}
	}

	pool, err := p.withoutDigested(ctx, pool)
	if err != nil {
		return nil, err
	}

	ranked := p.curator.Curate(pool, rc.Reference)
	rc.Diagnostics.Candidates = len(pool)

	selected := make([]Candidate, 0, len(ranked))
	for _, c := range ranked {
		applied, err := transition(ctx, p.items, c.Item.Fingerprint, c.Item.Stage, domain.StageCurated, domain.ItemUpdate{
			Score: domain.FloatPtr(c.Score),
			Tags:  append([]string{}, c.Matched...),
		})
		if err != nil {
			return nil, err
		}
		if !applied {
			rc.Diagnostics.Skipped++
			continue
		}
		p.metrics.RecordTransition(domain.StageCurated)
		c.Item.Stage = domain.StageCurated
		c.Item.Score = c.Score
		c.Item.Tags = c.Matched
		selected = append(selected, c)
	}

	rc.Diagnostics.Curated = len(selected)
	rc.Logger.Info("curation finished", "candidates", len(pool), "selected", len(selected))
	return selected, nil
}

func (p *Pipeline) withoutDigested(ctx context.Context, items []domain.Item) ([]domain.Item, error) {
	included := make(map[string]bool)
	for start := 0; start < len(items); start += includedChunk {
		end := min(start+includedChunk, len(items))
		fps := make([]string, 0, end-start)
		for _, item := range items[start:end] {
			fps = append(fps, item.Fingerprint)
		}
		chunk, err := p.digests.IncludedFingerprints(ctx, fps)
		if err != nil {
			return nil, err
		}
		for fp := range chunk {
			included[fp] = true
		}
	}

	kept := items[:0]
	for _, item := range items {
		if !included[item.Fingerprint] {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

func (p *Pipeline) deliver(ctx context.Context, rc *RunContext, digest domain.Digest) (RunReport, error) {
	message := domain.DigestMessage{RunDate: digest.RunDate, Recipients: p.recipients}
	for _, fp := range digest.Items {
		item, err := p.items.Get(ctx, fp)
		if err != nil {
			return p.finish(rc, &digest, fmt.Errorf("load digest item: %w", err))
		}
		message.Entries = append(message.Entries, domain.DigestEntry{
			Title:       item.Title,
			Summary:     item.Summary,
			Source:      item.Source,
			URL:         item.URL,
			PublishedAt: item.PublishedAt,
		})
	}

	if err := p.deliverer.Deliver(ctx, message); err != nil {
		p.metrics.RecordDelivery(domain.DigestFailed)
		deliveryErr := &domain.DeliveryError{RunDate: digest.RunDate, Err: err}
		if uerr := p.digests.UpdateStatus(ctx, digest.RunDate, digest.Status, domain.DigestFailed, err.Error()); uerr != nil {
			return p.finish(rc, &digest, errors.Join(deliveryErr, uerr))
		}
		digest.Status = domain.DigestFailed
		return p.finish(rc, &digest, deliveryErr)
	}

	if err := p.digests.UpdateStatus(ctx, digest.RunDate, digest.Status, domain.DigestSent, ""); err != nil {
		return p.finish(rc, &digest, fmt.Errorf("mark digest sent: %w", err))
	}
	digest.Status = domain.DigestSent
	p.metrics.RecordDelivery(domain.DigestSent)

	if err := p.markDelivered(ctx, rc, digest); err != nil {
		return p.finish(rc, &digest, err)
	}

	_ = rc.Advance(RunComplete)
	return p.finish(rc, &digest, nil)
}

func (p *Pipeline) markDelivered(ctx context.Context, rc *RunContext, digest domain.Digest) error {
	for _, fp := range digest.Items {
		applied, err := transition(ctx, p.items, fp, domain.StageCurated, domain.StageDelivered, domain.ItemUpdate{})
		if err != nil {
			return fmt.Errorf("mark %s delivered: %w", fp, err)
		}
		if applied {
			p.metrics.RecordTransition(domain.StageDelivered)
		}
	}
	return nil
}

func (p *Pipeline) finish(rc *RunContext, digest *domain.Digest, err error) (RunReport, error) {
	if err != nil {
		_ = rc.Fail(err)
	}
	report := rc.report(p.clock(), digest)
	p.metrics.RecordRun(string(report.State), report.Duration)

	if err != nil {
		rc.Logger.Error("run failed", "state", report.State, "error", err)
		return report, err
	}
	rc.Logger.Info("run finished",
		"state", report.State,
		"inserted", report.Diagnostics.Inserted,
		"summarized", report.Diagnostics.Summarized,
		"summarize_failed", report.Diagnostics.SummarizeFailed,
		"curated", report.Diagnostics.Curated,
		"duration", report.Duration,
	)
	return report, nil
}
