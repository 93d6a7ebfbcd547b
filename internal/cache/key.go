// Package cache persists complete UTC days of candles as checksummed
// columnar files, with a sqlite metadata index mapping keys to entries.
package cache

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"klinevault/internal/market"
)

// Key identifies exactly one cache file covering one UTC calendar day.
type Key struct {
	Provider string
	Market   market.MarketType
	Chart    market.ChartType
	Symbol   string
	Interval string
	// Date is the day start in UTC epoch milliseconds.
	Date int64
}

func NewKey(provider string, m market.MarketType, chart market.ChartType, symbol, interval string, dayStart int64) Key {
	return Key{
		Provider: strings.ToLower(strings.TrimSpace(provider)),
		Market:   m,
		Chart:    chart,
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Interval: interval,
		Date:     market.DayStart(dayStart),
	}
}

func (k Key) DateString() string {
	return time.UnixMilli(k.Date).UTC().Format("2006-01-02")
}

// ID is the stable string form used as the index primary key.
func (k Key) ID() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s",
		k.Provider, k.Market, k.Chart, k.Symbol, k.Interval, k.DateString())
}

// RelPath places the file under provider/market/chart/symbol/interval/.
func (k Key) RelPath() string {
	name := fmt.Sprintf("%s-%s-%s.kvc", k.Symbol, k.Interval, k.DateString())
	return filepath.Join(k.Provider, k.Market.String(), k.Chart.String(), k.Symbol, k.Interval, name)
}

// DayWindow returns the inclusive candle window the file must cover.
func (k Key) DayWindow(iv market.Interval) market.TimeWindow {
	step := iv.Millis()
	return market.TimeWindow{Start: k.Date, End: k.Date + 24*time.Hour.Milliseconds() - step}
}

// Entry is the metadata record for one cache file. Owned by the store;
// callers re-read through Lookup instead of holding entries across calls.
type Entry struct {
	Key       Key
	Path      string
	Checksum  string
	RowCount  int64
	CoverFrom int64
	CoverTo   int64
	WrittenAt time.Time
}
