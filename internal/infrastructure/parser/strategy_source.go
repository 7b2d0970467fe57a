package parser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scanner"
)

type boundSite struct {
	site     config.SiteConfig
	strategy scanner.Scanner
}

// StrategySource implements ItemSource via registered scanner strategies.
type StrategySource struct {
	sites    []boundSite
	lookback time.Duration
	logger   *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource binds every configured site to its scanner up front, so an unknown
// scanner name fails at startup rather than in the middle of a run.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, lookback time.Duration, log *slog.Logger) (*StrategySource, error) {
	if reg == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	if log == nil {
		log = slog.Default()
	}

	bound := make([]boundSite, 0, len(sites))
	for _, site := range sites {
		strategy, err := reg.Resolve(site.Scanner)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}
		bound = append(bound, boundSite{site: site, strategy: strategy})
	}

	return &StrategySource{sites: bound, lookback: lookback, logger: log}, nil
}

// FetchDaily runs every site's scanner for the window (day-lookback, day]. A failing site
// contributes an error and whatever items it still produced; the other sites go on.
func (s *StrategySource) FetchDaily(ctx context.Context, day time.Time) ([]domain.RawItem, []error) {
	var since time.Time
	if s.lookback > 0 {
		since = day.Add(-s.lookback)
	}

	s.logger.Debug("fetch daily", "sites", len(s.sites), "since", since, "until", day)

	var (
		aggregated []domain.RawItem
		errs       []error
	)
	for _, b := range s.sites {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		req := scanner.Request{
			Day:      day,
			Since:    since,
			SiteName: b.site.Name,
			Options:  b.site.Options,
			Feeds:    toScannerFeeds(b.site.Feeds),
		}

		results, err := b.strategy.Scan(ctx, req)
		if err != nil {
			s.logger.Warn("site scan failed", "site", b.site.Name, "scanner", b.strategy.Name(), "error", err)
			errs = append(errs, fmt.Errorf("scan site %s: %w", b.site.Name, err))
		}

		for i := range results {
			if results[i].Source == "" {
				results[i].Source = b.site.Name
			}
		}
		s.logger.Debug("site produced items", "site", b.site.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	s.logger.Info("scrape done", "items", len(aggregated), "errors", len(errs))
	return aggregated, errs
}

func toScannerFeeds(cfg []config.FeedConfig) []scanner.Feed {
	feeds := make([]scanner.Feed, 0, len(cfg))
	for _, f := range cfg {
		feeds = append(feeds, scanner.Feed{
			Name: f.Name,
			URL:  f.URL,
		})
	}
	return feeds
}
