package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3,9} \d{4}|[A-Za-z]{3,9} \d{1,2}, \d{4}|\d{4}-\d{2}-\d{2}`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// HTMLScanner extracts entries from blog listing pages that have no feed. Selectors
// come from site options: itemSelector, titleSelector, linkSelector, dateSelector,
// summarySelector.
type HTMLScanner struct {
	fetcher httpFetcher
}

// NewHTMLScanner wires an HTTP client; nil falls back to a 20s-timeout client.
func NewHTMLScanner(client *http.Client, userAgent string) *HTMLScanner {
	return &HTMLScanner{fetcher: newHTTPFetcher(client, userAgent)}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return "html"
}

type listingSelectors struct {
	item    string
	title   string
	link    string
	date    string
	summary string
}

// Scan walks through each listing URL and returns entries inside the lookback window.
func (h *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no listing pages provided for site %s", req.SiteName)
	}

	sel := listingSelectors{
		item:    req.Option("itemSelector", "article"),
		title:   req.Option("titleSelector", "h1, h2, h3"),
		link:    req.Option("linkSelector", "a[href]"),
		date:    req.Option("dateSelector", "time"),
		summary: req.Option("summarySelector", "p"),
	}

	var (
		results []domain.RawItem
		errs    []error
		seen    = map[string]struct{}{}
	)
	for _, page := range req.Feeds {
		base, err := url.Parse(page.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %s: invalid url: %w", page.Name, err))
			continue
		}

		doc, err := h.fetchDocument(ctx, page.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", page.Name, err))
			continue
		}

		doc.Find(sel.item).Each(func(_ int, s *goquery.Selection) {
			item, ok := parseListingEntry(s, sel, base, req.SiteName)
			if !ok {
				return
			}
			if !item.PublishedAt.IsZero() && !within(item.PublishedAt, req.Since, req.Day) {
				return
			}
			if _, dup := seen[item.URL]; dup {
				return
			}
			seen[item.URL] = struct{}{}
			results = append(results, item)
		})
	}

	return results, errors.Join(errs...)
}

func (h *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := h.fetcher.get(ctx, pageURL, "text/html")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func parseListingEntry(s *goquery.Selection, sel listingSelectors, base *url.URL, siteName string) (domain.RawItem, bool) {
	title := strings.TrimSpace(whitespace.ReplaceAllString(s.Find(sel.title).First().Text(), " "))

	link := s.Find(sel.link).First()
	if goquery.NodeName(s) == "a" {
		link = s
	}
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return domain.RawItem{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return domain.RawItem{}, false
	}
	absolute := base.ResolveReference(ref).String()

	if title == "" {
		title = strings.TrimSpace(whitespace.ReplaceAllString(link.Text(), " "))
	}
	if title == "" {
		return domain.RawItem{}, false
	}

	summary := strings.TrimSpace(whitespace.ReplaceAllString(s.Find(sel.summary).First().Text(), " "))

	return domain.RawItem{
		Source:      siteName,
		Title:       title,
		URL:         absolute,
		Text:        summary,
		PublishedAt: parseListingDate(s.Find(sel.date).First()),
	}, true
}

func parseListingDate(s *goquery.Selection) time.Time {
	candidates := []string{}
	if attr, ok := s.Attr("datetime"); ok {
		candidates = append(candidates, strings.TrimSpace(attr))
	}
	text := strings.TrimSpace(s.Text())
	if match := dateExpr.FindString(text); match != "" {
		candidates = append(candidates, match)
	}

	for _, value := range candidates {
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}
