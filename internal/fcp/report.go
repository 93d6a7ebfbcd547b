package fcp

import (
	"time"

	"klinevault/internal/market"
)

// SegmentFailure describes one segment that ended fatally. The rest of the
// request is unaffected; the missing range shows up in Gaps.
type SegmentFailure struct {
	Window   market.TimeWindow `json:"window"`
	Source   market.DataSource `json:"source"`
	Attempts int               `json:"attempts"`
	Reason   string            `json:"reason"`
}

// Report accompanies every successful GetData result. Gaps are advisory: a
// gap can be a failed segment or a genuinely quiet range; Failures tells the
// two apart.
type Report struct {
	Window   market.TimeWindow `json:"window"`
	Expected int64             `json:"expected"`
	Returned int64             `json:"returned"`

	Segments      int `json:"segments"`
	CacheHits     int `json:"cache_hits"`
	CacheMisses   int `json:"cache_misses"`
	VisionServed  int `json:"vision_served"`
	RESTServed    int `json:"rest_served"`
	EmptySegments int `json:"empty_segments"`
	CacheWrites   int `json:"cache_writes"`

	Failures []SegmentFailure `json:"failures,omitempty"`
	Gaps     []market.Gap     `json:"gaps,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Complete reports whether the series covers the whole window with no gaps.
func (r Report) Complete() bool { return len(r.Gaps) == 0 }
