package market

import (
	"fmt"
	"sort"
)

// Gap is a run of consecutive interval boundaries with no candle.
type Gap struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Count int64 `json:"count"`
}

// Merge concatenates segment results into one ascending series, deduplicating
// by open time. When two rows share an open time the one from the
// higher-priority source wins (CACHE > VISION > REST).
func Merge(segments ...[]Candle) []Candle {
	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	if total == 0 {
		return nil
	}
	byOpen := make(map[int64]Candle, total)
	for _, seg := range segments {
		for _, c := range seg {
			prev, ok := byOpen[c.OpenTime]
			if !ok || c.Source.Priority() > prev.Source.Priority() {
				byOpen[c.OpenTime] = c
			}
		}
	}
	out := make([]Candle, 0, len(byOpen))
	for _, c := range byOpen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}

// FindGaps walks the interval grid across the normalized window and collects
// boundaries with no matching candle. Input must be sorted ascending.
func FindGaps(candles []Candle, w TimeWindow, iv Interval) []Gap {
	step := iv.Millis()
	if step <= 0 || w.End < w.Start {
		return nil
	}
	var gaps []Gap
	idx := 0
	cursor := w.Start
	for cursor <= w.End {
		for idx < len(candles) && candles[idx].OpenTime < cursor {
			idx++
		}
		if idx < len(candles) && candles[idx].OpenTime == cursor {
			idx++
			cursor += step
			continue
		}
		gapStart := cursor
		var missing int64
		for cursor <= w.End {
			if idx < len(candles) && candles[idx].OpenTime == cursor {
				break
			}
			cursor += step
			missing++
		}
		gaps = append(gaps, Gap{From: gapStart, To: cursor - step, Count: missing})
	}
	return gaps
}

// ValidateSeries checks the invariants every stored or returned series must
// hold: open times strictly increasing, on the interval grid anchored at
// w.Start, inside the window, and OHLC values internally consistent.
// A violation is a defect in the producing source, not a tolerable state.
func ValidateSeries(candles []Candle, w TimeWindow, iv Interval) error {
	step := iv.Millis()
	if step <= 0 {
		return fmt.Errorf("interval %q has no duration", iv.Key)
	}
	var prev int64 = -1
	for i, c := range candles {
		if c.OpenTime < w.Start || c.OpenTime > w.End {
			return fmt.Errorf("row %d: open time %d outside window %s", i, c.OpenTime, w)
		}
		if (c.OpenTime-w.Start)%step != 0 {
			return fmt.Errorf("row %d: open time %d off the %s grid", i, c.OpenTime, iv.Key)
		}
		if prev >= 0 && c.OpenTime <= prev {
			return fmt.Errorf("row %d: open time %d not increasing (prev %d)", i, c.OpenTime, prev)
		}
		if c.High < c.Low || c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			return fmt.Errorf("row %d: inconsistent OHLC %+v", i, c)
		}
		if c.Volume < 0 || c.QuoteVolume < 0 || c.Trades < 0 {
			return fmt.Errorf("row %d: negative volume fields", i)
		}
		prev = c.OpenTime
	}
	return nil
}

// IsCompleteDay reports whether candles cover the day window gap-free. Only
// complete days are eligible for the cache.
func IsCompleteDay(candles []Candle, dayWindow TimeWindow, iv Interval) bool {
	if int64(len(candles)) != ExpectedCount(dayWindow, iv) {
		return false
	}
	return len(FindGaps(candles, dayWindow, iv)) == 0
}
