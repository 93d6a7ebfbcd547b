// Package fcp implements the failover control protocol: per day segment,
// consult the cache, then the bulk archive, then the rate-limited REST API,
// and merge whatever resolved into one gap-checked series.
package fcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinevault/internal/cache"
	"klinevault/internal/fetch"
	"klinevault/internal/journal"
	"klinevault/internal/logger"
	"klinevault/internal/market"
	"klinevault/internal/pkg/symbol"
	"klinevault/internal/source"
)

// ErrConfigContradiction marks a request whose policy cannot be satisfied by
// the manager's configuration. Rejected before any I/O.
var ErrConfigContradiction = errors.New("source policy contradicts configuration")

// Config fixes the provider coordinates and failover policy knobs for one
// orchestrator instance. No global state; everything arrives here.
type Config struct {
	Provider string
	Market   market.MarketType
	Chart    market.ChartType
	// CachingEnabled gates all cache store traffic.
	CachingEnabled bool
	// VisionDelay is how long after a day closes its bulk archive is
	// assumed published.
	VisionDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "binance"
	}
	if c.VisionDelay <= 0 {
		c.VisionDelay = 40 * time.Hour
	}
	return c
}

// Deps are the orchestrator's collaborators. Cache and Journal may be nil
// (disabled); Now defaults to the wall clock and exists for tests.
type Deps struct {
	Cache   *cache.Store
	Fetcher *fetch.Manager
	Vision  source.ExchangeDataSource
	REST    source.ExchangeDataSource
	Journal *journal.Store
	Now     func() time.Time
}

type Orchestrator struct {
	cfg     Config
	cache   *cache.Store
	fetcher *fetch.Manager
	vision  source.ExchangeDataSource
	rest    source.ExchangeDataSource
	journal *journal.Store
	now     func() time.Time
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	final := cfg.withDefaults()
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetch manager is required")
	}
	if deps.Vision == nil || deps.REST == nil {
		return nil, fmt.Errorf("both vision and REST sources are required")
	}
	if final.CachingEnabled && deps.Cache == nil {
		return nil, fmt.Errorf("caching enabled but no cache store supplied")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:     final,
		cache:   deps.Cache,
		fetcher: deps.Fetcher,
		vision:  deps.Vision,
		rest:    deps.REST,
		journal: deps.Journal,
		now:     now,
	}, nil
}

type segState struct {
	window   market.TimeWindow
	resolved bool
	empty    bool
	source   market.DataSource
	candles  []market.Candle
	failure  *SegmentFailure
}

// GetData retrieves the candle series for [start, end] after boundary
// normalization. Segment failures are absorbed into the report; the only
// request-level errors are input validation, policy contradiction and
// cancellation.
func (o *Orchestrator) GetData(ctx context.Context, pair string, iv market.Interval, start, end time.Time, policy market.SourcePolicy) ([]market.Candle, Report, error) {
	began := o.now()

	// Policy vs configuration, before any I/O.
	if policy == market.PolicyCacheOnly && !o.cfg.CachingEnabled {
		return nil, Report{}, fmt.Errorf("%w: CACHE_ONLY with caching disabled", ErrConfigContradiction)
	}
	sym := symbol.Normalize(pair)
	if sym == "" {
		return nil, Report{}, fmt.Errorf("empty symbol")
	}
	if !iv.ValidFor(o.cfg.Market) {
		return nil, Report{}, fmt.Errorf("interval %s is not served on %s markets", iv.Key, o.cfg.Market)
	}

	w, expected, err := market.Normalize(start, end, iv, began)
	if err != nil {
		return nil, Report{}, err
	}

	segWindows := market.SplitByDay(w, iv)
	segs := make([]segState, len(segWindows))
	for i, sw := range segWindows {
		segs[i] = segState{window: sw}
	}
	report := Report{Window: w, Expected: expected, Segments: len(segs)}

	o.resolveFromCache(segs, sym, iv, policy, &report)
	if err := o.resolveFromVision(ctx, segs, sym, iv, policy, &report); err != nil {
		return nil, Report{}, err
	}
	if err := o.resolveFromREST(ctx, segs, sym, iv, policy, &report); err != nil {
		return nil, Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}

	resolved := make([][]market.Candle, 0, len(segs))
	for i := range segs {
		if segs[i].resolved {
			resolved = append(resolved, segs[i].candles)
		}
		if segs[i].failure != nil {
			report.Failures = append(report.Failures, *segs[i].failure)
		}
	}
	merged := market.Merge(resolved...)
	if err := market.ValidateSeries(merged, w, iv); err != nil {
		// merge output violating the series invariants is a defect, not
		// a degraded result
		return nil, Report{}, fmt.Errorf("merged series failed validation: %w", err)
	}
	report.Returned = int64(len(merged))
	report.Gaps = market.FindGaps(merged, w, iv)
	report.Duration = o.now().Sub(began)

	o.record(ctx, sym, iv, policy, began, report)
	return merged, report, nil
}

// resolveFromCache serves whatever segments the store already holds. Cache
// reads never touch the network.
func (o *Orchestrator) resolveFromCache(segs []segState, sym string, iv market.Interval, policy market.SourcePolicy, report *Report) {
	if !o.cfg.CachingEnabled || !policy.AllowsCache() || !iv.IntraDay() {
		return
	}
	for i := range segs {
		key := o.keyFor(sym, iv, segs[i].window.Start)
		entry, found := o.cache.Lookup(key)
		if !found {
			report.CacheMisses++
			continue
		}
		candles, err := o.cache.Read(entry)
		if err != nil {
			// store invalidated the entry already; treat as a miss
			logger.Warnf("[fcp] cache read %s failed: %v", key.ID(), err)
			report.CacheMisses++
			continue
		}
		segs[i].candles = clipToWindow(candles, segs[i].window)
		segs[i].resolved = true
		segs[i].source = market.SourceCache
		report.CacheHits++
	}
}

// resolveFromVision dispatches still-unresolved, archive-eligible segments to
// the bulk source. Fetches cover the full day so complete results can be
// cached even when the request only touches part of the day.
func (o *Orchestrator) resolveFromVision(ctx context.Context, segs []segState, sym string, iv market.Interval, policy market.SourcePolicy, report *Report) error {
	if !policy.AllowsVision() || !iv.IntraDay() {
		return nil
	}
	var idxs []int
	var queries []source.Query
	for i := range segs {
		if segs[i].resolved {
			continue
		}
		if policy != market.PolicyVisionOnly && !o.visionEligible(segs[i].window) {
			continue
		}
		dayStart := market.DayStart(segs[i].window.Start)
		key := o.keyFor(sym, iv, dayStart)
		idxs = append(idxs, i)
		queries = append(queries, source.Query{
			Symbol:   sym,
			Market:   o.cfg.Market,
			Chart:    o.cfg.Chart,
			Interval: iv,
			Window:   key.DayWindow(iv),
		})
	}
	if len(queries) == 0 {
		return nil
	}
	results := o.fetcher.FetchAll(ctx, o.vision, queries)
	if err := ctx.Err(); err != nil {
		return err
	}
	for n, res := range results {
		i := idxs[n]
		switch res.Outcome {
		case fetch.OutcomeSuccess:
			o.acceptNetworkSegment(&segs[i], res, iv, report)
			if segs[i].resolved {
				report.VisionServed++
			}
		case fetch.OutcomeNotFound:
			if policy.AllowsREST() {
				// archive absent; the REST tier gets the segment next
				continue
			}
			segs[i].resolved = true
			segs[i].empty = true
			segs[i].source = market.SourceVision
			report.EmptySegments++
		case fetch.OutcomeFatal:
			// fall through to REST; keep the archive failure in case
			// REST cannot serve it either
			segs[i].failure = failureFrom(res)
		}
	}
	return nil
}

// resolveFromREST is the last tier: recent data, archive misses, and
// anything a forced policy sends here.
func (o *Orchestrator) resolveFromREST(ctx context.Context, segs []segState, sym string, iv market.Interval, policy market.SourcePolicy, report *Report) error {
	if !policy.AllowsREST() {
		return nil
	}
	var idxs []int
	var queries []source.Query
	for i := range segs {
		if segs[i].resolved {
			continue
		}
		idxs = append(idxs, i)
		queries = append(queries, source.Query{
			Symbol:   sym,
			Market:   o.cfg.Market,
			Chart:    o.cfg.Chart,
			Interval: iv,
			Window:   segs[i].window,
		})
	}
	if len(queries) == 0 {
		return nil
	}
	results := o.fetcher.FetchAll(ctx, o.rest, queries)
	if err := ctx.Err(); err != nil {
		return err
	}
	for n, res := range results {
		i := idxs[n]
		switch res.Outcome {
		case fetch.OutcomeSuccess:
			o.acceptNetworkSegment(&segs[i], res, iv, report)
			if segs[i].resolved {
				report.RESTServed++
				segs[i].failure = nil
			}
		case fetch.OutcomeNotFound:
			// legitimately no data for the slice; an empty resolved
			// segment, not a failure
			segs[i].resolved = true
			segs[i].empty = true
			segs[i].source = market.SourceREST
			segs[i].failure = nil
			report.EmptySegments++
		case fetch.OutcomeFatal:
			segs[i].failure = failureFrom(res)
		}
	}
	return nil
}

// acceptNetworkSegment validates a fetched slice, writes complete days back
// to the cache, and clips the rows to the segment window.
func (o *Orchestrator) acceptNetworkSegment(seg *segState, res fetch.SegmentResult, iv market.Interval, report *Report) {
	if err := market.ValidateSeries(res.Candles, res.Query.Window, iv); err != nil {
		logger.Warnf("[fcp] %s segment %s failed schema validation: %v", res.Source, res.Query.Window, err)
		seg.failure = &SegmentFailure{
			Window:   seg.window,
			Source:   res.Source,
			Attempts: res.Attempts,
			Reason:   err.Error(),
		}
		return
	}
	o.maybeCache(res, iv, report)
	seg.candles = clipToWindow(res.Candles, seg.window)
	seg.resolved = true
	seg.source = res.Source
}

// maybeCache persists a fetched slice when it is a complete, fully past
// calendar day. Partial days ("today so far") are never cached.
func (o *Orchestrator) maybeCache(res fetch.SegmentResult, iv market.Interval, report *Report) {
	if !o.cfg.CachingEnabled || !iv.IntraDay() {
		return
	}
	dayStart := market.DayStart(res.Query.Window.Start)
	key := o.keyFor(res.Query.Symbol, iv, dayStart)
	dayWindow := key.DayWindow(iv)
	if res.Query.Window != dayWindow {
		return
	}
	if !market.IsCompleteDay(res.Candles, dayWindow, iv) {
		return
	}
	if dayEnd := dayStart + 24*time.Hour.Milliseconds(); o.now().UnixMilli() < dayEnd {
		return
	}
	if _, err := o.cache.Write(key, iv, res.Candles); err != nil {
		logger.Warnf("[fcp] cache write %s failed: %v", key.ID(), err)
		return
	}
	report.CacheWrites++
}

func (o *Orchestrator) keyFor(sym string, iv market.Interval, dayStart int64) cache.Key {
	return cache.NewKey(o.cfg.Provider, o.cfg.Market, o.cfg.Chart, sym, iv.Key, dayStart)
}

// visionEligible reports whether the segment's day is old enough for its
// bulk archive to exist.
func (o *Orchestrator) visionEligible(w market.TimeWindow) bool {
	dayEnd := market.DayStart(w.Start) + 24*time.Hour.Milliseconds()
	return o.now().UnixMilli()-dayEnd >= o.cfg.VisionDelay.Milliseconds()
}

func (o *Orchestrator) record(ctx context.Context, sym string, iv market.Interval, policy market.SourcePolicy, began time.Time, report Report) {
	if o.journal == nil {
		return
	}
	_, err := o.journal.Record(ctx, journal.RunRecord{
		Symbol:      sym,
		Interval:    iv.Key,
		WindowStart: report.Window.Start,
		WindowEnd:   report.Window.End,
		Policy:      policy.String(),
		Rows:        report.Returned,
		CacheHits:   report.CacheHits,
		VisionHits:  report.VisionServed,
		RESTHits:    report.RESTServed,
		Gaps:        len(report.Gaps),
		Failed:      len(report.Failures),
		Duration:    report.Duration,
		StartedAt:   began,
	})
	if err != nil {
		logger.Warnf("[fcp] journal record failed: %v", err)
	}
}

func failureFrom(res fetch.SegmentResult) *SegmentFailure {
	reason := res.Outcome.String()
	if res.Err != nil {
		reason = res.Err.Error()
	}
	return &SegmentFailure{
		Window:   res.Query.Window,
		Source:   res.Source,
		Attempts: res.Attempts,
		Reason:   reason,
	}
}

func clipToWindow(candles []market.Candle, w market.TimeWindow) []market.Candle {
	out := candles[:0:0]
	for _, c := range candles {
		if w.Contains(c.OpenTime) {
			out = append(out, c)
		}
	}
	return out
}
