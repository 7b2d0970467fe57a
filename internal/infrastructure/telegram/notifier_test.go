package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/delivery"
)

func TestNotifierDeliver(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		texts []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("chat_id") != "42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		texts = append(texts, r.PostForm.Get("text"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	notifier := NewNotifier(config.TelegramConfig{BotToken: "token", ChatID: "42", APIBase: server.URL}, delivery.NewRenderer("", "", time.UTC))
	err := notifier.Deliver(context.Background(), domain.DigestMessage{
		RunDate: "2025-11-08",
		Entries: []domain.DigestEntry{{Title: "Agents", Summary: "Agents did things.", URL: "https://a.example.com"}},
	})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || !strings.Contains(texts[0], "Agents did things.") {
		t.Fatalf("unexpected messages: %q", texts)
	}
}

func TestNotifierMisconfigured(t *testing.T) {
	t.Parallel()

	notifier := NewNotifier(config.TelegramConfig{}, delivery.NewRenderer("", "", time.UTC))
	if err := notifier.Deliver(context.Background(), domain.DigestMessage{RunDate: "2025-11-08"}); err == nil {
		t.Fatal("expected misconfiguration error")
	}
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30) + "\n\n" + strings.Repeat("c", 90)
	chunks := splitMessage(text, 64)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if len([]rune(c)) > 64 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
	}
	if chunks[0] != strings.Repeat("a", 30)+"\n\n"+strings.Repeat("b", 30) {
		t.Fatalf("expected first two paragraphs joined, got %q", chunks[0])
	}
}
