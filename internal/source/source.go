// Package source defines the exchange data source boundary and the two
// network-backed implementations: the bulk Vision archive and the
// rate-limited REST API.
package source

import (
	"context"

	"klinevault/internal/market"
)

// Query names one slice of candles to retrieve. The window is normalized and
// inclusive on both ends.
type Query struct {
	Symbol   string
	Market   market.MarketType
	Chart    market.ChartType
	Interval market.Interval
	Window   market.TimeWindow
}

// ExchangeDataSource is the only surface the fetch manager and orchestrator
// depend on; transport details stay behind it.
type ExchangeDataSource interface {
	// Kind tags the provenance of returned candles.
	Kind() market.DataSource
	// FetchRange returns ascending candles inside the query window.
	// ErrNotFound (possibly wrapped) means the slice legitimately has no
	// data; it is not a failure.
	FetchRange(ctx context.Context, q Query) ([]market.Candle, error)
	// WeightFor estimates the request weight FetchRange will consume for
	// the query. Zero for unmetered sources.
	WeightFor(q Query) int
}
