package usecase

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

var (
	_ ports.ItemStore   = (*memoryItems)(nil)
	_ ports.DigestStore = (*memoryDigests)(nil)
	_ ports.Summarizer  = (*scriptedSummarizer)(nil)
	_ ports.Deliverer   = (*recordingDeliverer)(nil)
	_ ports.ItemSource  = (*staticSource)(nil)
)

var testNow = time.Date(2025, 11, 8, 14, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type memoryItems struct {
	mu    sync.Mutex
	items map[string]domain.Item
	// beforeUpdate lets a test move an item between a read and a conditional write.
	beforeUpdate func(fingerprint string)
}

func newMemoryItems(items ...domain.Item) *memoryItems {
	m := &memoryItems{items: make(map[string]domain.Item)}
	for _, item := range items {
		m.items[item.Fingerprint] = item
	}
	return m
}

func (m *memoryItems) InsertIfNew(_ context.Context, item domain.Item) (domain.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.Fingerprint]; ok {
		return domain.AlreadyExists, nil
	}
	m.items[item.Fingerprint] = item
	return domain.Inserted, nil
}

func (m *memoryItems) Get(_ context.Context, fingerprint string) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[fingerprint]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (m *memoryItems) ListByStage(_ context.Context, stage domain.Stage) iter.Seq2[domain.Item, error] {
	return func(yield func(domain.Item, error) bool) {
		m.mu.Lock()
		var matched []domain.Item
		for _, item := range m.items {
			if item.Stage == stage {
				matched = append(matched, item)
			}
		}
		m.mu.Unlock()

		slices.SortFunc(matched, func(a, b domain.Item) int {
			if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
				return n
			}
			return strings.Compare(a.Fingerprint, b.Fingerprint)
		})
		for _, item := range matched {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (m *memoryItems) UpdateStage(_ context.Context, fingerprint string, from, to domain.Stage, update domain.ItemUpdate) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(fingerprint)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[fingerprint]
	if !ok {
		return domain.ErrItemNotFound
	}
	if item.Stage != from {
		return &domain.StaleStateError{Fingerprint: fingerprint, Expected: from, Actual: item.Stage}
	}

	item.Stage = to
	if update.Summary != nil {
		item.Summary = *update.Summary
	}
	if update.Score != nil {
		item.Score = *update.Score
	}
	if update.Tags != nil {
		item.Tags = update.Tags
	}
	if update.LastError != nil {
		item.LastError = *update.LastError
	}
	if update.Retryable != nil {
		item.Retryable = *update.Retryable
	}
	switch {
	case update.ResetErrors:
		item.ErrorCount = 0
	case update.IncrementErrors:
		item.ErrorCount++
	}
	if update.IncrementFailedRuns {
		item.FailedRuns++
	}
	m.items[fingerprint] = item
	return nil
}

// set overwrites an item outside the stage machine to simulate concurrent writers.
func (m *memoryItems) set(item domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Fingerprint] = item
}

func (m *memoryItems) StageCounts(context.Context) (map[domain.Stage]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Stage]int)
	for _, item := range m.items {
		counts[item.Stage]++
	}
	return counts, nil
}

func (m *memoryItems) stage(fingerprint string) domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[fingerprint].Stage
}

func (m *memoryItems) item(fingerprint string) domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[fingerprint]
}

type memoryDigests struct {
	mu      sync.Mutex
	digests map[domain.RunDate]domain.Digest
	creates int
}

func newMemoryDigests() *memoryDigests {
	return &memoryDigests{digests: make(map[domain.RunDate]domain.Digest)}
}

func (m *memoryDigests) Create(_ context.Context, digest domain.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.digests[digest.RunDate]; ok {
		return &domain.DuplicateDigestError{RunDate: digest.RunDate}
	}
	m.creates++
	m.digests[digest.RunDate] = digest
	return nil
}

func (m *memoryDigests) Get(_ context.Context, runDate domain.RunDate) (domain.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	digest, ok := m.digests[runDate]
	if !ok {
		return domain.Digest{}, domain.ErrDigestNotFound
	}
	return digest, nil
}

func (m *memoryDigests) UpdateStatus(_ context.Context, runDate domain.RunDate, from, to domain.DeliveryStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.CanTransition(to) {
		return &domain.IllegalTransitionError{Entity: "digest", From: string(from), To: string(to)}
	}
	digest, ok := m.digests[runDate]
	if !ok {
		return domain.ErrDigestNotFound
	}
	if digest.Status != from {
		return domain.ErrDigestStatusChanged
	}
	digest.Status = to
	digest.Attempts++
	digest.LastError = lastError
	m.digests[runDate] = digest
	return nil
}

func (m *memoryDigests) IncludedFingerprints(_ context.Context, fingerprints []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	included := make(map[string]bool)
	for _, digest := range m.digests {
		for _, fp := range digest.Items {
			if slices.Contains(fingerprints, fp) {
				included[fp] = true
			}
		}
	}
	return included, nil
}

// scriptedSummarizer answers per title: a queued error is returned first, then the fallback.
type scriptedSummarizer struct {
	mu       sync.Mutex
	errs     map[string][]error
	calls    map[string]int
	inputs   map[string]string
	inFlight int
	peak     int
	hold     time.Duration
}

func newScriptedSummarizer() *scriptedSummarizer {
	return &scriptedSummarizer{
		errs:   make(map[string][]error),
		calls:  make(map[string]int),
		inputs: make(map[string]string),
	}
}

func (s *scriptedSummarizer) fail(title string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[title] = append(s.errs[title], errs...)
}

func (s *scriptedSummarizer) Summarize(ctx context.Context, title, text string) (string, error) {
	s.mu.Lock()
	s.calls[title]++
	s.inputs[title] = text
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	var err error
	if queue := s.errs[title]; len(queue) > 0 {
		err = queue[0]
		s.errs[title] = queue[1:]
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.hold > 0 {
		select {
		case <-time.After(s.hold):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "Summary of " + title, nil
}

func (s *scriptedSummarizer) callCount(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[title]
}

type recordingDeliverer struct {
	mu       sync.Mutex
	err      error
	messages []domain.DigestMessage
}

func (d *recordingDeliverer) Deliver(_ context.Context, message domain.DigestMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message)
	return d.err
}

func (d *recordingDeliverer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

type staticSource struct {
	items []domain.RawItem
	errs  []error
}

func (s staticSource) FetchDaily(context.Context, time.Time) ([]domain.RawItem, []error) {
	return s.items, s.errs
}

var errUpstream = errors.New("upstream unavailable")

func scrapedItem(title string, created time.Time) domain.Item {
	item := domain.NewItem(domain.RawItem{
		Source:      "test",
		Title:       title,
		URL:         "https://example.com/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Text:        title + " body",
		PublishedAt: created,
	}, created)
	return item
}

func summarizedItem(title, summary string, published time.Time) domain.Item {
	item := scrapedItem(title, published)
	item.Stage = domain.StageSummarized
	item.Summary = summary
	return item
}
