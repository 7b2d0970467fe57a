package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"NewsDigest/internal/domain"
)

func TestClientSummarize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/summarize" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req summarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title != "Agents" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(summarizeResponse{Summary: "Agents, summarized."})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "", "local", 0)
	summary, err := client.Summarize(context.Background(), "Agents", "text")
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if summary != "Agents, summarized." {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestClientClassifiesFailures(t *testing.T) {
	t.Parallel()

	status := http.StatusBadGateway
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", 0)
	_, err := client.Summarize(context.Background(), "t", "x")
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("expected transient error for 502, got %v", err)
	}
}

func TestClientRejectsUnprocessable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", "", 0).Summarize(context.Background(), "t", "x")
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error for 422, got %v", err)
	}
}
