package market

// DataSource identifies where a candle (or a whole segment) came from.
type DataSource int

const (
	SourceUnknown DataSource = iota
	SourceCache
	SourceVision
	SourceREST
)

func (s DataSource) String() string {
	switch s {
	case SourceCache:
		return "CACHE"
	case SourceVision:
		return "VISION"
	case SourceREST:
		return "REST"
	default:
		return "UNKNOWN"
	}
}

// Priority orders sources for dedup: cache and Vision hold already-validated
// complete days, REST rows for the current day are provisional.
func (s DataSource) Priority() int {
	switch s {
	case SourceCache:
		return 3
	case SourceVision:
		return 2
	case SourceREST:
		return 1
	default:
		return 0
	}
}

// SourcePolicy restricts which sources GetData may consult.
type SourcePolicy int

const (
	PolicyAuto SourcePolicy = iota
	PolicyCacheOnly
	PolicyVisionOnly
	PolicyRESTOnly
)

func (p SourcePolicy) String() string {
	switch p {
	case PolicyAuto:
		return "AUTO"
	case PolicyCacheOnly:
		return "CACHE_ONLY"
	case PolicyVisionOnly:
		return "VISION_ONLY"
	case PolicyRESTOnly:
		return "REST_ONLY"
	default:
		return "UNKNOWN"
	}
}

func (p SourcePolicy) AllowsCache() bool  { return p == PolicyAuto || p == PolicyCacheOnly }
func (p SourcePolicy) AllowsVision() bool { return p == PolicyAuto || p == PolicyVisionOnly }
func (p SourcePolicy) AllowsREST() bool   { return p == PolicyAuto || p == PolicyRESTOnly }

// Candle is one OHLCV record. Times are UTC epoch milliseconds; OpenTime is
// the authoritative key within any series.
type Candle struct {
	OpenTime            int64      `json:"open_time"`
	Open                float64    `json:"open"`
	High                float64    `json:"high"`
	Low                 float64    `json:"low"`
	Close               float64    `json:"close"`
	Volume              float64    `json:"volume"`
	CloseTime           int64      `json:"close_time"`
	QuoteVolume         float64    `json:"quote_volume"`
	Trades              int64      `json:"trades"`
	TakerBuyVolume      float64    `json:"taker_buy_volume"`
	TakerBuyQuoteVolume float64    `json:"taker_buy_quote_volume"`
	Source              DataSource `json:"source"`
}

// MarketType selects the product universe a symbol trades on.
type MarketType int

const (
	MarketSpot MarketType = iota
	MarketFuturesUM
	MarketFuturesCM
)

func (m MarketType) String() string {
	switch m {
	case MarketSpot:
		return "spot"
	case MarketFuturesUM:
		return "um"
	case MarketFuturesCM:
		return "cm"
	default:
		return "unknown"
	}
}

// ChartType is the kind of series stored per cache file. Only klines are
// implemented today; the dimension exists so mark-price or premium-index
// series can share the cache layout later.
type ChartType int

const (
	ChartKlines ChartType = iota
)

func (c ChartType) String() string {
	switch c {
	case ChartKlines:
		return "klines"
	default:
		return "unknown"
	}
}
