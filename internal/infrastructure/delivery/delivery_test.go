package delivery

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
)

func sampleMessage() domain.DigestMessage {
	return domain.DigestMessage{
		RunDate:    "2025-11-08",
		Recipients: []string{"reader@example.com"},
		Entries: []domain.DigestEntry{
			{
				Title:       "Scaling <laws> revisited",
				Summary:     "Compute-optimal training & data.",
				Source:      "Lab",
				URL:         "https://lab.example.com/scaling",
				PublishedAt: time.Date(2025, time.November, 8, 9, 30, 0, 0, time.UTC),
			},
		},
	}
}

func TestLongDate(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		1:  "1st November 2025",
		2:  "2nd November 2025",
		3:  "3rd November 2025",
		8:  "8th November 2025",
		11: "11th November 2025",
		12: "12th November 2025",
		13: "13th November 2025",
		21: "21st November 2025",
		22: "22nd November 2025",
	}
	for day, want := range cases {
		if got := LongDate(time.Date(2025, time.November, day, 0, 0, 0, 0, time.UTC)); got != want {
			t.Errorf("LongDate(%d) = %q, want %q", day, got, want)
		}
	}
}

func TestRenderEscapesAndConverts(t *testing.T) {
	t.Parallel()

	rendered, err := NewRenderer("Ada", "", time.UTC).Render(sampleMessage())
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	if rendered.Subject != "Your Daily AI Digest - 8th November 2025" {
		t.Fatalf("unexpected subject %q", rendered.Subject)
	}
	if !strings.Contains(rendered.HTML, "Scaling &lt;laws&gt; revisited") {
		t.Fatalf("expected escaped title in html")
	}
	if !strings.Contains(rendered.HTML, "Hi Ada, your daily digest is here for 8th November 2025, with one story") {
		t.Fatalf("unexpected intro in html")
	}
	if !strings.Contains(rendered.Text, "https://lab.example.com/scaling") || strings.Contains(rendered.Text, "<div") {
		t.Fatalf("expected markdown text with links, got %q", rendered.Text)
	}
}

func TestRenderEmptyDigest(t *testing.T) {
	t.Parallel()

	message := sampleMessage()
	message.Entries = nil
	rendered, err := NewRenderer("", "Digest %s", time.UTC).Render(message)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(rendered.Text, nothingNew) {
		t.Fatalf("expected nothing-new notice, got %q", rendered.Text)
	}
	if !strings.Contains(rendered.Text, "Hi there") {
		t.Fatalf("expected generic greeting, got %q", rendered.Text)
	}
	if rendered.Subject != "Digest 8th November 2025" {
		t.Fatalf("unexpected subject %q", rendered.Subject)
	}
}

func TestEmailDelivererSend(t *testing.T) {
	t.Parallel()

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  []byte
	)
	send := func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, auth, to, msg
		return nil
	}

	cfg := config.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, Username: "user", Password: "pw", From: "digest@example.com"}
	deliverer := NewEmailDeliverer(cfg, NewRenderer("", "", time.UTC), send)

	if err := deliverer.Deliver(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotAuth == nil {
		t.Fatalf("unexpected smtp target %s auth=%v", gotAddr, gotAuth)
	}
	if len(gotTo) != 1 || gotTo[0] != "reader@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{"Content-Type: multipart/alternative", "text/plain", "text/html", "From: digest@example.com"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q", want)
		}
	}
}

func TestEmailDelivererErrors(t *testing.T) {
	t.Parallel()

	failing := func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	deliverer := NewEmailDeliverer(config.EmailConfig{SMTPHost: "h", SMTPPort: 25, From: "f@example.com"}, NewRenderer("", "", time.UTC), failing)

	if err := deliverer.Deliver(context.Background(), sampleMessage()); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected send error, got %v", err)
	}

	message := sampleMessage()
	message.Recipients = nil
	if err := deliverer.Deliver(context.Background(), message); err == nil {
		t.Fatal("expected error without recipients")
	}
}

func TestConsoleDeliverer(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	deliverer := NewConsoleDeliverer(&out, NewRenderer("", "", time.UTC), logging.Discard())
	if err := deliverer.Deliver(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if !strings.Contains(out.String(), "Compute-optimal training & data.") {
		t.Fatalf("unexpected console output %q", out.String())
	}
}
