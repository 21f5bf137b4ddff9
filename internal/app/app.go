// Package app wires configuration into the run pipeline: fetch sources,
// filter against the dedup store, enrich, render, pack, deliver, persist.
//
// Everything is an explicit object constructed here and passed down; no
// component reaches for shared global state.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digestbot/internal/config"
	"digestbot/internal/dedup"
	"digestbot/internal/delivery"
	"digestbot/internal/feed"
	"digestbot/internal/packer"
	"digestbot/internal/render"
	"digestbot/internal/retry"
	"digestbot/internal/summarize"
	"digestbot/pkg/logx"
)

type App struct {
	cfg        *config.Config
	log        logx.Logger
	fetcher    *feed.Fetcher
	summarizer *summarize.Client
	sequencer  *delivery.Sequencer
	pack       packer.Packer
	now        func() time.Time
}

// LogxConfig maps the config file's log section onto the logging service.
func LogxConfig(c config.LogConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

// New builds a run pipeline from a validated config.
func New(cfg *config.Config, log logx.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	transport, err := buildTransport(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	spacing, err := config.ParseDurationOrDefault("delivery.spacing", cfg.Delivery.Spacing, time.Second)
	if err != nil {
		return nil, err
	}
	baseDelay, err := config.ParseDurationOrDefault("delivery.retry.base_delay", cfg.Delivery.Retry.BaseDelay, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	maxDelay, err := config.ParseDurationOrDefault("delivery.retry.max_delay", cfg.Delivery.Retry.MaxDelay, 10*time.Second)
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{
		MaxRetries: cfg.Delivery.Retry.MaxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		Jitter:     cfg.Delivery.Retry.JitterEnabled(),
	}

	chunkLimit := cfg.Delivery.ChunkLimit
	if chunkLimit <= 0 || chunkLimit > transport.Limit() {
		chunkLimit = transport.Limit()
	}

	sumTimeout, err := config.ParseDurationField("summarize.timeout", cfg.Summarize.Timeout)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		fetcher: feed.NewFetcher(log.With(logx.String("component", "fetcher"))),
		summarizer: summarize.New(summarize.Config{
			Enabled:      cfg.Summarize.Enabled,
			Endpoint:     cfg.Summarize.Endpoint,
			Model:        cfg.Summarize.Model,
			APIKey:       cfg.Summarize.APIKey,
			SystemPrompt: cfg.Summarize.SystemPrompt,
			Timeout:      sumTimeout,
		}, log.With(logx.String("component", "summarize"))),
		sequencer: delivery.NewSequencer(transport, delivery.Config{
			Policy:  policy,
			Spacing: spacing,
		}, log.With(logx.String("component", "delivery"))),
		pack: packer.New(chunkLimit),
		now:  time.Now,
	}, nil
}

func buildTransport(cfg config.DeliveryConfig) (delivery.Transport, error) {
	switch cfg.Transport {
	case "", "webhook":
		return delivery.NewWebhook(cfg.WebhookURL), nil
	case "telegram":
		return delivery.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID), nil
	default:
		return nil, fmt.Errorf("app: unknown delivery transport %q", cfg.Transport)
	}
}

func (a *App) sources() []feed.SourceConfig {
	out := make([]feed.SourceConfig, 0, len(a.cfg.Sources))
	for _, s := range a.cfg.Sources {
		out = append(out, feed.SourceConfig{
			Key:   s.Key,
			Title: s.Title,
			Kind:  feed.Kind(s.Kind),
			Feeds: s.Feeds,
			Limit: s.Limit,
		})
	}
	return out
}

// RunOnce executes one full digest cycle. A single source failing upstream
// is tolerated; every source failing, a packing error, an exhausted chunk
// delivery, or a dedup persist failure aborts the run.
func (a *App) RunOnce(ctx context.Context) error {
	start := a.now()

	store, err := dedup.Open(dedup.Config{
		Driver: a.cfg.Storage.Driver,
		Path:   a.cfg.Storage.Path,
	}, a.log.With(logx.String("component", "dedup")))
	if err != nil {
		return fmt.Errorf("open dedup store: %w", err)
	}
	defer store.Close()

	sources := a.sources()
	var groups []render.Group
	fetched, fresh, failedSources := 0, 0, 0
	for _, src := range sources {
		items, err := a.fetcher.Fetch(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failedSources++
			a.log.Warn("source failed, continuing without it",
				logx.String("source", src.Key), logx.Err(err))
			continue
		}
		fetched += len(items)

		keep := store.FilterNew(items)
		if len(keep) == 0 {
			continue
		}
		keep = a.summarizer.Enrich(ctx, keep)
		groups = append(groups, render.Group{Title: src.DisplayTitle(), Items: keep})
		fresh += len(keep)
	}
	if failedSources == len(sources) {
		return fmt.Errorf("all %d sources failed", len(sources))
	}

	delivered := 0
	if fresh > 0 {
		header := render.Header(a.now())
		sections := render.Sections(groups)
		footer := render.Footer(fresh, len(groups))

		chunks, err := a.pack.Pack(header, sections, footer)
		if err != nil {
			return fmt.Errorf("pack digest: %w", err)
		}
		rep, err := a.sequencer.Send(ctx, chunks)
		delivered = rep.Sent
		if err != nil {
			// The filtered items were already recorded as seen; persist so a
			// later run does not re-attempt what this one claimed.
			if perr := store.Persist(); perr != nil {
				a.log.Error("dedup persist failed after delivery error", logx.Err(perr))
			}
			return err
		}
	} else {
		a.log.Info("no new items, skipping delivery")
	}

	if err := store.Persist(); err != nil {
		return err
	}
	retention := time.Duration(a.cfg.Storage.RetentionDays) * 24 * time.Hour
	if err := store.Cleanup(retention); err != nil {
		return err
	}

	a.log.Info("run finished",
		logx.Int("fetched", fetched),
		logx.Int("new", fresh),
		logx.Int("delivered_chunks", delivered),
		logx.Int("sources_failed", failedSources),
		logx.Duration("took", a.now().Sub(start)))
	return nil
}

// NotifyError pushes a best-effort diagnostic about a failed run through the
// delivery channel.
func (a *App) NotifyError(ctx context.Context, runErr error) {
	a.sequencer.SendError(ctx, runErr)
}
