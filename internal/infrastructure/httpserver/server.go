// Package httpserver serves health, metrics and read-only digest views.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Deps lists what the router reads from.
type Deps struct {
	Items   ports.ItemStore
	Digests ports.DigestStore
	Metrics http.Handler
	Logger  *slog.Logger
}

type entryResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary"`
	Score       float64   `json:"score"`
	Stage       string    `json:"stage"`
	PublishedAt time.Time `json:"published_at"`
}

type digestResponse struct {
	RunDate     string          `json:"run_date"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
	Items       []entryResponse `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter wires every endpoint onto a chi router.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{items: deps.Items, digests: deps.Digests, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	r.Get("/stages", h.stages)
	r.Get("/digests/{date}", h.digest)

	return r
}

type handler struct {
	items   ports.ItemStore
	digests ports.DigestStore
	logger  *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) stages(w http.ResponseWriter, r *http.Request) {
	counts, err := h.items.StageCounts(r.Context())
	if err != nil {
		h.logger.Error("stage counts", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	out := make(map[string]int, len(counts))
	for _, stage := range domain.Stages() {
		out[stage.String()] = counts[stage]
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) digest(w http.ResponseWriter, r *http.Request) {
	runDate, err := domain.ParseRunDate(chi.URLParam(r, "date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	digest, err := h.digests.Get(r.Context(), runDate)
	if errors.Is(err, domain.ErrDigestNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "digest not found"})
		return
	}
	if err != nil {
		h.logger.Error("load digest", "run_date", runDate.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := digestResponse{
		RunDate:     digest.RunDate.String(),
		Status:      string(digest.Status),
		Attempts:    digest.Attempts,
		LastError:   digest.LastError,
		GeneratedAt: digest.GeneratedAt,
		Items:       make([]entryResponse, 0, len(digest.Items)),
	}
	if !digest.SentAt.IsZero() {
		sent := digest.SentAt
		resp.SentAt = &sent
	}

	for _, fingerprint := range digest.Items {
		item, err := h.items.Get(r.Context(), fingerprint)
		if errors.Is(err, domain.ErrItemNotFound) {
			continue
		}
		if err != nil {
			h.logger.Error("load digest item", "fingerprint", fingerprint, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		resp.Items = append(resp.Items, entryResponse{
			Fingerprint: item.Fingerprint,
			Title:       item.Title,
			URL:         item.URL,
			Source:      item.Source,
			Summary:     item.Summary,
			Score:       item.Score,
			Stage:       item.Stage.String(),
			PublishedAt: item.PublishedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
