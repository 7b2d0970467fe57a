package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

const youtubeFeedBase = "https://www.youtube.com/feeds/videos.xml"

// YouTubeScanner reads channel upload feeds. Feeds may hold a channel id, a channel URL
// or a complete feed URL. The optional transcriptEndpoint option names a service that
// answers GET ?video_id=... with plain transcript text.
type YouTubeScanner struct {
	fetcher  httpFetcher
	text     plainText
	feedBase string
	logger   *slog.Logger
}

// NewYouTubeScanner wires an HTTP client; nil falls back to a 20s-timeout client.
func NewYouTubeScanner(client *http.Client, userAgent string, log *slog.Logger) *YouTubeScanner {
	if log == nil {
		log = slog.Default()
	}
	return &YouTubeScanner{
		fetcher:  newHTTPFetcher(client, userAgent),
		text:     newPlainText(),
		feedBase: youtubeFeedBase,
		logger:   log,
	}
}

// Name identifies the strategy inside the registry.
func (y *YouTubeScanner) Name() string {
	return "youtube"
}

// Scan returns the channel videos published inside the lookback window.
func (y *YouTubeScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no channels provided for site %s", req.SiteName)
	}

	transcripts := req.Option("transcriptEndpoint", "")

	var (
		results []domain.RawItem
		errs    []error
	)
	for _, channel := range req.Feeds {
		feedURL, err := y.feedURL(channel.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channel.Name, err))
			continue
		}

		body, err := y.fetcher.get(ctx, feedURL, feedAccept)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channel.Name, err))
			continue
		}
		parsed, err := gofeed.NewParser().ParseString(string(body))
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: parse feed: %w", channel.Name, err))
			continue
		}

		for _, entry := range parsed.Items {
			if entry == nil {
				continue
			}
			published := entryTime(entry)
			if !published.IsZero() && !within(published, req.Since, req.Day) {
				continue
			}

			videoID := firstNonEmpty(extensionValue(entry.Extensions, "yt", "videoId"), videoIDFromURL(entry.Link))
			item := domain.RawItem{
				Source:      req.SiteName,
				Title:       strings.TrimSpace(entry.Title),
				URL:         strings.TrimSpace(entry.Link),
				Text:        y.text.convert(firstNonEmpty(mediaDescription(entry.Extensions), entry.Description)),
				PublishedAt: published,
			}
			if videoID != "" {
				item.CanonicalID = "youtube:" + videoID
			}

			if transcripts != "" && videoID != "" {
				if text, err := y.transcript(ctx, transcripts, videoID); err != nil {
					y.logger.Debug("transcript unavailable", "video_id", videoID, "error", err)
				} else if text != "" {
					item.Text = text
				}
			}
			results = append(results, item)
		}
	}
	return results, errors.Join(errs...)
}

func (y *YouTubeScanner) feedURL(channel string) (string, error) {
	channel = strings.TrimSpace(channel)
	if strings.Contains(channel, "feeds/videos.xml") {
		return channel, nil
	}

	id := channelID(channel)
	if id == "" {
		return "", fmt.Errorf("cannot extract channel id from %q", channel)
	}
	u, err := url.Parse(y.feedBase)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("channel_id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (y *YouTubeScanner) transcript(ctx context.Context, endpoint, videoID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid transcript endpoint: %w", err)
	}
	q := u.Query()
	q.Set("video_id", videoID)
	u.RawQuery = q.Encode()

	body, err := y.fetcher.get(ctx, u.String(), "text/plain")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(string(body), " ")), nil
}

func channelID(input string) string {
	if strings.HasPrefix(input, "UC") && len(input) == 24 {
		return input
	}
	if _, rest, ok := strings.Cut(input, "/channel/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		id, _, _ = strings.Cut(id, "?")
		if strings.HasPrefix(id, "UC") && len(id) == 24 {
			return id
		}
	}
	return ""
}

func videoIDFromURL(link string) string {
	if _, rest, ok := strings.Cut(link, "youtu.be/"); ok {
		id, _, _ := strings.Cut(rest, "?")
		id, _, _ = strings.Cut(id, "/")
		return id
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Path, "/watch") {
		return u.Query().Get("v")
	}
	if _, rest, ok := strings.Cut(u.Path, "/embed/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		return id
	}
	if _, rest, ok := strings.Cut(u.Path, "/shorts/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		return id
	}
	return ""
}

func extensionValue(exts ext.Extensions, namespace, name string) string {
	for _, e := range exts[namespace][name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func mediaDescription(exts ext.Extensions) string {
	for _, group := range exts["media"]["group"] {
		for _, d := range group.Children["description"] {
			if v := strings.TrimSpace(d.Value); v != "" {
				return v
			}
		}
	}
	return ""
}
