// Package fetch runs segment downloads against a data source with bounded
// concurrency, bounded retries and rate-budget awareness.
package fetch

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"klinevault/internal/logger"
	"klinevault/internal/market"
	"klinevault/internal/ratelimit"
	"klinevault/internal/source"
)

// Outcome is the terminal state of one segment attempt sequence.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	// OutcomeNotFound means the source legitimately has no data for the
	// slice. Terminal; the caller accepts an empty segment.
	OutcomeNotFound
	// OutcomeFatal covers malformed payloads, checksum mismatches and
	// exhausted retry budgets. Scoped to the one segment.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeNotFound:
		return "NOT_FOUND"
	case OutcomeFatal:
		return "FATAL_FAILURE"
	default:
		return "PENDING"
	}
}

// SegmentResult reports one segment's resolution.
type SegmentResult struct {
	Query    source.Query
	Candles  []market.Candle
	Outcome  Outcome
	Source   market.DataSource
	Attempts int
	Err      error
}

const (
	concurrencyCap = 100
	maxBudgetWait  = 10 * time.Second
)

// Config tunes the manager. Zero values get sane defaults.
type Config struct {
	Provider       string
	MaxConcurrency int
	MaxRetries     int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "binance"
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.MaxConcurrency > concurrencyCap {
		c.MaxConcurrency = concurrencyCap
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Manager owns the worker pool and the rate budget. One manager serves any
// number of GetData calls concurrently.
type Manager struct {
	cfg    Config
	budget *ratelimit.Tracker
}

func NewManager(cfg Config, budget *ratelimit.Tracker) *Manager {
	final := cfg.withDefaults()
	if budget == nil {
		budget = ratelimit.NewTracker(0, nil)
	}
	return &Manager{cfg: final, budget: budget}
}

// FetchAll resolves every query against src on a bounded worker pool.
// Results come back positionally; a fatal segment never fails the group.
func (m *Manager) FetchAll(ctx context.Context, src source.ExchangeDataSource, queries []source.Query) []SegmentResult {
	results := make([]SegmentResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results[i] = m.FetchSegment(gctx, src, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FetchSegment drives one segment through the attempt state machine:
// PENDING → IN_FLIGHT → {SUCCESS, NOT_FOUND, RETRYABLE_FAILURE, FATAL_FAILURE},
// where retryable failures loop with jittered exponential backoff until the
// retry budget runs out.
func (m *Manager) FetchSegment(ctx context.Context, src source.ExchangeDataSource, q source.Query) SegmentResult {
	res := SegmentResult{Query: q, Source: src.Kind()}
	bo := &backoff.Backoff{
		Min:    m.cfg.BackoffMin,
		Max:    m.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeFatal
			res.Err = err
			return res
		}
		if weight := src.WeightFor(q); weight > 0 {
			granted, wait := m.budget.Reserve(m.cfg.Provider, weight)
			if !granted {
				if wait <= 0 {
					// weight can never fit the ceiling
					res.Outcome = OutcomeFatal
					res.Err = errBudgetUnsatisfiable(m.cfg.Provider, weight)
					return res
				}
				if wait > maxBudgetWait {
					wait = maxBudgetWait
				}
				logger.Debugf("[fetch] budget exhausted for %s, waiting %s (attempt %d)",
					m.cfg.Provider, wait, attempt)
				if !sleepWithContext(ctx, wait) {
					res.Outcome = OutcomeFatal
					res.Err = ctx.Err()
					return res
				}
				lastErr = errBudgetDenied(m.cfg.Provider)
				continue
			}
		}

		candles, err := src.FetchRange(ctx, q)
		if err == nil {
			res.Candles = candles
			res.Outcome = OutcomeSuccess
			return res
		}
		lastErr = err
		switch classify(err) {
		case classNotFound:
			res.Outcome = OutcomeNotFound
			return res
		case classCanceled, classFatal:
			res.Outcome = OutcomeFatal
			res.Err = err
			return res
		case classRetryable:
			if attempt == m.cfg.MaxRetries {
				break
			}
			d := bo.Duration()
			logger.Debugf("[fetch] %s %s attempt %d failed: %v, retrying in %s",
				src.Kind(), q.Window, attempt, err, d)
			if !sleepWithContext(ctx, d) {
				res.Outcome = OutcomeFatal
				res.Err = ctx.Err()
				return res
			}
		}
	}
	res.Outcome = OutcomeFatal
	res.Err = lastErr
	return res
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
