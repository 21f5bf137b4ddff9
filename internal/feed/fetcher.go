package feed

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"digestbot/pkg/logx"
)

const defaultItemLimit = 20

// Fetcher pulls and normalizes items from configured sources.
// One Fetcher serves every source; per-source behavior comes from
// SourceConfig, not from subtypes.
type Fetcher struct {
	parser  *gofeed.Parser
	limiter *rate.Limiter
	log     logx.Logger
}

func NewFetcher(log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := gofeed.NewParser()
	p.UserAgent = "digestbot/1.0"
	p.Client = &http.Client{Timeout: 15 * time.Second}
	return &Fetcher{
		parser: p,
		// Stay polite to feed hosts when a source lists many feeds.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		log:     log,
	}
}

// Fetch retrieves every feed of the source and returns normalized items,
// newest first, truncated to the source's item limit.
// A source with several feeds fails only if every feed fails.
func (f *Fetcher) Fetch(ctx context.Context, src SourceConfig) ([]Item, error) {
	if len(src.Feeds) == 0 {
		return nil, fmt.Errorf("source %q has no feeds configured", src.Key)
	}

	normalize := normalizerFor(src.Kind)

	var items []Item
	var lastErr error
	failed := 0
	for _, feedURL := range src.Feeds {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			failed++
			lastErr = err
			f.log.Warn("feed fetch failed",
				logx.String("source", src.Key),
				logx.String("feed", feedURL),
				logx.Err(err))
			continue
		}
		for _, raw := range parsed.Items {
			if raw == nil {
				continue
			}
			it := normalize(src.Key, raw)
			if it.URL == "" || it.Title == "" {
				continue
			}
			items = append(items, it)
		}
	}
	if failed == len(src.Feeds) {
		return nil, fmt.Errorf("source %q: all %d feeds failed: %w", src.Key, failed, lastErr)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})

	limit := src.Limit
	if limit <= 0 {
		limit = defaultItemLimit
	}
	if len(items) > limit {
		items = items[:limit]
	}

	f.log.Debug("source fetched",
		logx.String("source", src.Key),
		logx.Int("items", len(items)),
		logx.Int("feeds_failed", failed))
	return items, nil
}
