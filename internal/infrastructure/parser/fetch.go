package parser

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"NewsDigest/internal/domain"
)

const (
	defaultUserAgent = "NewsDigest/1.0"
	maxBodySize      = 10 << 20
)

var whitespace = regexp.MustCompile(`\s+`)

// httpFetcher is shared by every scanner that talks to the web.
type httpFetcher struct {
	client    *http.Client
	userAgent string
}

func newHTTPFetcher(client *http.Client, userAgent string) httpFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return httpFetcher{client: client, userAgent: userAgent}
}

func (f httpFetcher) get(ctx context.Context, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, domain.Transient(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if err := domain.ClassifyHTTPStatus(resp.StatusCode, truncateBody(body)); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return body, nil
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}

// plainText strips all markup from feed-supplied HTML and collapses whitespace.
type plainText struct {
	policy *bluemonday.Policy
}

func newPlainText() plainText {
	return plainText{policy: bluemonday.StrictPolicy()}
}

func (p plainText) convert(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicy escapes what it keeps.
	text := p.policy.Sanitize(raw)
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// within reports whether t falls inside [since, until]. A zero bound is open.
func within(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	if !until.IsZero() && t.After(until) {
		return false
	}
	return true
}
