// Package delivery sends packed digest chunks through a chat transport,
// in order, with retry and burst-rate spacing.
package delivery

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"digestbot/internal/retry"
	"digestbot/pkg/logx"
)

// Transport is one outbound chat channel. Implementations report their own
// message ceiling so the packer can be sized per transport.
type Transport interface {
	Name() string
	Limit() int
	Validate() error
	Send(ctx context.Context, content string) error
}

// Report summarizes one delivery pass.
type Report struct {
	Sent   int
	Failed int
}

// Sequencer sends chunks strictly in order. Each chunk gets the full retry
// budget; a chunk that still fails aborts the remaining ones, since
// delivering later chunks without an earlier one would scramble the digest.
type Sequencer struct {
	transport Transport
	policy    retry.Policy
	limiter   *rate.Limiter
	log       logx.Logger
}

// Config parameterizes the delivery stage. Spacing is the fixed gap between
// consecutive chunk sends.
type Config struct {
	Policy  retry.Policy
	Spacing time.Duration
}

func NewSequencer(transport Transport, cfg Config, log logx.Logger) *Sequencer {
	if log.IsZero() {
		log = logx.Nop()
	}
	spacing := cfg.Spacing
	if spacing <= 0 {
		spacing = time.Second
	}
	return &Sequencer{
		transport: transport,
		policy:    cfg.Policy,
		// Burst 1: the first send goes immediately, every following send
		// waits out the spacing.
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		log:     log,
	}
}

// Send validates the transport once, then delivers every chunk in order.
// Partial delivery is reported, not hidden: the error carries the index of
// the chunk that exhausted its retries.
func (s *Sequencer) Send(ctx context.Context, chunks []string) (Report, error) {
	var rep Report
	if err := s.transport.Validate(); err != nil {
		return rep, fmt.Errorf("delivery: transport rejected: %w", err)
	}

	for i, chunk := range chunks {
		if err := s.limiter.Wait(ctx); err != nil {
			rep.Failed = len(chunks) - rep.Sent
			return rep, err
		}
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			return s.transport.Send(ctx, chunk)
		})
		if err != nil {
			rep.Failed = len(chunks) - rep.Sent
			s.log.Error("chunk delivery failed, aborting remaining",
				logx.String("transport", s.transport.Name()),
				logx.Int("chunk", i+1),
				logx.Int("total", len(chunks)),
				logx.Err(err))
			return rep, fmt.Errorf("delivery: chunk %d/%d: %w", i+1, len(chunks), err)
		}
		rep.Sent++
		s.log.Debug("chunk delivered",
			logx.String("transport", s.transport.Name()),
			logx.Int("chunk", i+1),
			logx.Int("total", len(chunks)))
	}
	return rep, nil
}

// SendError pushes a bounded diagnostic message about a failed run through
// the same transport. It is strictly best-effort: any failure here is
// swallowed so it can never mask the original error.
func (s *Sequencer) SendError(ctx context.Context, runErr error) {
	if runErr == nil {
		return
	}
	if err := s.transport.Validate(); err != nil {
		s.log.Warn("error notification skipped, transport invalid", logx.Err(err))
		return
	}

	msg := "⚠️ digest run failed: " + runErr.Error()
	if stack := logx.CaptureStack(3, 8); stack != "" {
		msg += "\n```\n" + stack + "\n```"
	}
	msg = truncate(msg, s.transport.Limit())

	err := s.policy.Do(ctx, func(ctx context.Context) error {
		return s.transport.Send(ctx, msg)
	})
	if err != nil {
		s.log.Warn("error notification failed", logx.Err(err))
	}
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	cut := maxN - len("…")
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
