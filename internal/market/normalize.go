package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRange means the window collapsed after boundary rounding.
	ErrInvalidRange = errors.New("invalid time range")
	// ErrFutureTimestamp means a bound lies beyond the current time. The
	// exchange rejects future queries hard, so this is caught before any
	// network round-trip.
	ErrFutureTimestamp = errors.New("timestamp in the future")
)

// TimeWindow is an inclusive [Start, End] range in UTC epoch milliseconds.
// A normalized window has both bounds on the interval grid.
type TimeWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (w TimeWindow) StartTime() time.Time { return time.UnixMilli(w.Start).UTC() }
func (w TimeWindow) EndTime() time.Time   { return time.UnixMilli(w.End).UTC() }

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s]", w.StartTime().Format(time.RFC3339), w.EndTime().Format(time.RFC3339))
}

// Contains reports whether ts (ms) falls inside the window.
func (w TimeWindow) Contains(ts int64) bool { return ts >= w.Start && ts <= w.End }

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

func alignUp(ts, step int64) int64 {
	down := alignDown(ts, step)
	if down == ts {
		return ts
	}
	return down + step
}

// Normalize aligns a raw user range to the interval grid: the start rounds up
// to the next boundary, the end rounds down, and both become inclusive. The
// same rule applies no matter which source later serves the data, which is
// what keeps cache, Vision and REST output mergeable.
//
// The returned count is advisory. It is the number of candles a fully traded
// range would contain; a quiet sub-range legitimately yields fewer rows.
func Normalize(rawStart, rawEnd time.Time, iv Interval, now time.Time) (TimeWindow, int64, error) {
	if rawStart.After(now) || rawEnd.After(now) {
		return TimeWindow{}, 0, fmt.Errorf("%w: range %s ~ %s vs now %s",
			ErrFutureTimestamp,
			rawStart.UTC().Format(time.RFC3339), rawEnd.UTC().Format(time.RFC3339),
			now.UTC().Format(time.RFC3339))
	}
	step := iv.Millis()
	if step <= 0 {
		return TimeWindow{}, 0, fmt.Errorf("%w: interval %q has no duration", ErrInvalidRange, iv.Key)
	}
	start := alignUp(rawStart.UTC().UnixMilli(), step)
	end := alignDown(rawEnd.UTC().UnixMilli(), step)
	if start > end {
		return TimeWindow{}, 0, fmt.Errorf("%w: window collapsed after alignment (%d > %d)",
			ErrInvalidRange, start, end)
	}
	w := TimeWindow{Start: start, End: end}
	return w, ExpectedCount(w, iv), nil
}

// ExpectedCount is the candle count of a gap-free series covering the
// normalized, inclusive window.
func ExpectedCount(w TimeWindow, iv Interval) int64 {
	step := iv.Millis()
	if step <= 0 || w.End < w.Start {
		return 0
	}
	return (w.End-w.Start)/step + 1
}

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// DayStart truncates ts to the start of its UTC calendar day.
func DayStart(ts int64) int64 { return alignDown(ts, dayMillis) }

// SplitByDay cuts a normalized window into one sub-window per UTC calendar
// day spanned. Each sub-window stays on the interval grid and inside w.
func SplitByDay(w TimeWindow, iv Interval) []TimeWindow {
	step := iv.Millis()
	if step <= 0 || w.End < w.Start {
		return nil
	}
	if !iv.IntraDay() {
		// multi-day periods are fetched as one slice
		return []TimeWindow{w}
	}
	var out []TimeWindow
	cur := w.Start
	for cur <= w.End {
		dayEnd := DayStart(cur) + dayMillis - step
		if dayEnd > w.End {
			dayEnd = w.End
		}
		out = append(out, TimeWindow{Start: cur, End: dayEnd})
		cur = dayEnd + step
	}
	return out
}
