package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// RSSScanner reads RSS/Atom feeds and keeps entries inside the lookback window.
// With the includeContent option set it replaces feed text with the article body.
type RSSScanner struct {
	fetcher httpFetcher
	content contentExtractor
	text    plainText
	logger  *slog.Logger
}

// NewRSSScanner wires an HTTP client; nil falls back to a 20s-timeout client.
func NewRSSScanner(client *http.Client, userAgent string, log *slog.Logger) *RSSScanner {
	fetcher := newHTTPFetcher(client, userAgent)
	if log == nil {
		log = slog.Default()
	}
	return &RSSScanner{
		fetcher: fetcher,
		content: contentExtractor{fetcher: fetcher},
		text:    newPlainText(),
		logger:  log,
	}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// Scan fetches every feed of the site. A broken feed does not hide the others: its
// error is joined into the returned error next to the items that were read.
func (r *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds provided for site %s", req.SiteName)
	}

	includeContent := strings.EqualFold(req.Option("includeContent", "false"), "true")

	var (
		results []domain.RawItem
		errs    []error
	)
	for _, feed := range req.Feeds {
		items, err := r.scanFeed(ctx, req, feed, includeContent)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.Name, err))
			continue
		}
		results = append(results, items...)
	}
	return results, errors.Join(errs...)
}

func (r *RSSScanner) scanFeed(ctx context.Context, req scanner.Request, feed scanner.Feed, includeContent bool) ([]domain.RawItem, error) {
	body, err := r.fetcher.get(ctx, feed.URL, feedAccept)
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", domain.Permanent(err))
	}

	var items []domain.RawItem
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		published := entryTime(entry)
		if !published.IsZero() && !within(published, req.Since, req.Day) {
			continue
		}

		item := domain.RawItem{
			Source:      req.SiteName,
			Title:       strings.TrimSpace(entry.Title),
			URL:         strings.TrimSpace(entry.Link),
			CanonicalID: strings.TrimSpace(entry.GUID),
			Text:        r.text.convert(firstNonEmpty(entry.Content, entry.Description)),
			PublishedAt: published,
		}
		if item.Title == "" && item.URL == "" {
			continue
		}

		if includeContent && item.URL != "" {
			text, err := r.content.extract(ctx, item.URL)
			if err != nil {
				r.logger.Warn("full content unavailable, keeping feed text", "url", item.URL, "error", err)
			} else if text != "" {
				item.Text = text
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func entryTime(entry *gofeed.Item) time.Time {
	switch {
	case entry.PublishedParsed != nil:
		return entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		return entry.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
