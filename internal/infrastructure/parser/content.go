package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// contentExtractor downloads an article page and keeps only its readable body text.
type contentExtractor struct {
	fetcher httpFetcher
}

func (c contentExtractor) extract(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid article url %s: %w", pageURL, err)
	}

	body, err := c.fetcher.get(ctx, pageURL, "text/html")
	if err != nil {
		return "", err
	}

	rp := readability.NewParser()
	article, err := rp.Parse(bytes.NewReader(body), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", fmt.Errorf("parse article body: %w", err)
	}

	var blocks []string
	doc.Find("h1,h2,h3,h4,p,li,pre,blockquote").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(whitespace.ReplaceAllString(s.Text(), " ")); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(whitespace.ReplaceAllString(doc.Text(), " ")), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}
