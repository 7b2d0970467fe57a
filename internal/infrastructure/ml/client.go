package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Client talks to a self-hosted inference service exposing POST /summarize.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

var _ ports.Summarizer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}
}

type summarizeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize requests a summary for the item text.
func (c *Client) Summarize(ctx context.Context, title, text string) (string, error) {
	var resp summarizeResponse
	if err := c.post(ctx, "/summarize", summarizeRequest{Title: title, Content: text, Model: c.model}, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Summary), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err := domain.ClassifyHTTPStatus(resp.StatusCode, string(msg)); err != nil {
			return fmt.Errorf("inference %s: %w", path, err)
		}
		return domain.Transient(fmt.Errorf("inference %s: unexpected status %s", path, resp.Status))
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Transient(errors.New("empty response body"))
		}
		return domain.Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
