package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is one of the closed set of chart periods the exchange serves.
type Interval struct {
	Key      string
	Duration time.Duration
	// SpotOnly marks granularities the futures markets do not serve.
	SpotOnly bool
}

var supportedIntervals = map[string]Interval{
	"1s":  {Key: "1s", Duration: time.Second, SpotOnly: true},
	"1m":  {Key: "1m", Duration: time.Minute},
	"3m":  {Key: "3m", Duration: 3 * time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"2h":  {Key: "2h", Duration: 2 * time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"6h":  {Key: "6h", Duration: 6 * time.Hour},
	"8h":  {Key: "8h", Duration: 8 * time.Hour},
	"12h": {Key: "12h", Duration: 12 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
	"3d":  {Key: "3d", Duration: 72 * time.Hour},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour},
	"1M":  {Key: "1M", Duration: 30 * 24 * time.Hour},
}

// ParseInterval returns the canonical interval definition.
func ParseInterval(input string) (Interval, error) {
	key := strings.TrimSpace(input)
	// monthly keeps its capital M to stay distinct from minutes
	if key != "1M" {
		key = strings.ToLower(key)
	}
	iv, ok := supportedIntervals[key]
	if !ok {
		return Interval{}, fmt.Errorf("unsupported interval: %s", input)
	}
	return iv, nil
}

// SupportedIntervals returns all valid keys, sorted by duration.
func SupportedIntervals() []string {
	keys := make([]string, 0, len(supportedIntervals))
	for k := range supportedIntervals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return supportedIntervals[keys[i]].Duration < supportedIntervals[keys[j]].Duration
	})
	return keys
}

// ValidFor reports whether the interval is served for the given market type.
func (iv Interval) ValidFor(m MarketType) bool {
	if iv.SpotOnly && m != MarketSpot {
		return false
	}
	return true
}

// IntraDay reports whether whole UTC days tile evenly with this interval.
// Only intra-day series are cached as day files; larger periods go straight
// to the network sources.
func (iv Interval) IntraDay() bool {
	day := 24 * time.Hour
	return iv.Duration <= day && day%iv.Duration == 0
}

func (iv Interval) Millis() int64 { return iv.Duration.Milliseconds() }

func (iv Interval) String() string { return iv.Key }
