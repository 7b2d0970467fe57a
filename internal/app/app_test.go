package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/usecase"
)

var testNow = time.Date(2025, time.November, 8, 14, 0, 0, 0, time.UTC)

type fixedSource struct {
	items []domain.RawItem
}

func (s fixedSource) FetchDaily(context.Context, time.Time) ([]domain.RawItem, []error) {
	return s.items, nil
}

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, title, _ string) (string, error) {
	return "Summary of " + title, nil
}

type capturingDeliverer struct {
	mu       sync.Mutex
	messages []domain.DigestMessage
	err      error
}

func (d *capturingDeliverer) Deliver(_ context.Context, message domain.DigestMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, message)
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Database:   config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "app.db")},
		Scheduler:  config.SchedulerConfig{CronExpression: "30 13 * * *"},
		Server:     config.ServerConfig{Addr: "127.0.0.1:0"},
		Summarizer: config.SummarizerConfig{Provider: "chatgpt", Workers: 2, MaxAttempts: 2, MaxRetryRuns: 1},
		Curation: config.CurationConfig{
			MinScore: 3,
			MaxItems: 5,
			MaxAge:   7 * 24 * time.Hour,
			Profiles: []config.ProfileConfig{{
				Name:     "AI Researcher",
				Keywords: []config.KeywordConfig{{Term: "LLM", Weight: 3}, {Term: "benchmark", Weight: 1}},
			}},
		},
		Delivery: config.DeliveryConfig{Channel: "log", Recipients: []string{"reader@example.com"}},
	}
}

func newTestApp(t *testing.T, deliverer *capturingDeliverer) *Application {
	t.Helper()

	source := fixedSource{items: []domain.RawItem{
		{Source: "Lab", Title: "New LLM benchmark", URL: "https://lab.example.com/llm?utm_source=x", PublishedAt: testNow.Add(-2 * time.Hour)},
		{Source: "Lab", Title: "New LLM benchmark", URL: "https://lab.example.com/llm#top", PublishedAt: testNow.Add(-2 * time.Hour)},
		{Source: "Lab", Title: "Office party photos", URL: "https://lab.example.com/party", PublishedAt: testNow.Add(-time.Hour)},
	}}

	application, err := New(context.Background(), testConfig(t), logging.Discard(), Options{
		Source:     source,
		Summarizer: echoSummarizer{},
		Deliverer:  deliverer,
		Clock:      func() time.Time { return testNow },
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { _ = application.Close() })
	return application
}

func TestApplicationRunEndToEnd(t *testing.T) {
	t.Parallel()

	deliverer := &capturingDeliverer{}
	application := newTestApp(t, deliverer)
	ctx := context.Background()

	report, err := application.Run(ctx, "2025-11-08")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.State != usecase.RunComplete {
		t.Fatalf("expected complete, got %s", report.State)
	}
	if report.Diagnostics.Inserted != 2 || report.Diagnostics.Duplicates != 1 {
		t.Fatalf("unexpected ingest counters %+v", report.Diagnostics)
	}
	if len(deliverer.messages) != 1 || len(deliverer.messages[0].Entries) != 1 {
		t.Fatalf("expected one digest with one entry, got %+v", deliverer.messages)
	}
	if got := deliverer.messages[0].Entries[0].Summary; got != "Summary of New LLM benchmark" {
		t.Fatalf("unexpected summary %q", got)
	}

	counts, digest, err := application.Status(ctx, "2025-11-08")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if counts[domain.StageDelivered] != 1 || counts[domain.StageSummarized] != 1 {
		t.Fatalf("unexpected stage counts %v", counts)
	}
	if digest == nil || digest.Status != domain.DigestSent {
		t.Fatalf("expected sent digest, got %+v", digest)
	}

	again, err := application.Run(ctx, "2025-11-08")
	if err != nil || again.State != usecase.RunSkipped {
		t.Fatalf("expected skipped rerun, got %s err=%v", again.State, err)
	}
	if len(deliverer.messages) != 1 {
		t.Fatalf("rerun must not deliver again")
	}
}

func TestApplicationRunDefaultsToToday(t *testing.T) {
	t.Parallel()

	application := newTestApp(t, &capturingDeliverer{})

	report, err := application.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.RunDate != "2025-11-08" {
		t.Fatalf("expected run date from the injected clock, got %s", report.RunDate)
	}
}

func TestApplicationRedeliver(t *testing.T) {
	t.Parallel()

	deliverer := &capturingDeliverer{err: errors.New("smtp down")}
	application := newTestApp(t, deliverer)
	ctx := context.Background()

	report, err := application.Run(ctx, "2025-11-08")
	var deliveryErr *domain.DeliveryError
	if !errors.As(err, &deliveryErr) || report.State != usecase.RunFailed {
		t.Fatalf("expected delivery failure, got state=%s err=%v", report.State, err)
	}

	deliverer.mu.Lock()
	deliverer.err = nil
	deliverer.mu.Unlock()

	if _, err := application.Redeliver(ctx, "2025-11-08"); err != nil {
		t.Fatalf("Redeliver error: %v", err)
	}
	_, digest, err := application.Status(ctx, "2025-11-08")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if digest.Status != domain.DigestSent || digest.Attempts != 2 {
		t.Fatalf("expected sent after two attempts, got %+v", digest)
	}
}

func TestApplicationHandler(t *testing.T) {
	t.Parallel()

	application := newTestApp(t, &capturingDeliverer{})
	if _, err := application.Run(context.Background(), "2025-11-08"); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	server := httptest.NewServer(application.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(buf.String(), `newsdigest_runs_total{state="complete"} 1`) {
		t.Fatalf("metrics missing completed run:\n%s", buf.String())
	}

	digestResp, err := http.Get(server.URL + "/digests/2025-11-08")
	if err != nil {
		t.Fatalf("GET digest: %v", err)
	}
	digestResp.Body.Close()
	if digestResp.StatusCode != http.StatusOK {
		t.Fatalf("digest status = %d", digestResp.StatusCode)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	if _, err := New(context.Background(), cfg, logging.Discard(), Options{}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
