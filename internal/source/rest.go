package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"klinevault/internal/logger"
	"klinevault/internal/market"
)

const (
	spotPageLimit    = 1000
	futuresPageLimit = 1500
)

// RESTConfig configures the real-time source.
type RESTConfig struct {
	SpotBaseURL    string
	FuturesBaseURL string
	Timeout        time.Duration
	ProxyURL       string
	// KlineWeight is the static weight charged per klines page. Provider
	// policy, injected rather than hard-coded.
	KlineWeight int
}

func (c RESTConfig) withDefaults() RESTConfig {
	if strings.TrimSpace(c.SpotBaseURL) == "" {
		c.SpotBaseURL = "https://api.binance.com"
	}
	if strings.TrimSpace(c.FuturesBaseURL) == "" {
		c.FuturesBaseURL = "https://fapi.binance.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.KlineWeight <= 0 {
		c.KlineWeight = 2
	}
	return c
}

// RESTSource serves recent data through the exchange REST API via the
// go-binance SDK, paging until the window is covered.
type RESTSource struct {
	cfg     RESTConfig
	spot    *binance.Client
	futures *futures.Client
}

func NewRESTSource(cfg RESTConfig) (*RESTSource, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.Timeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	spot := binance.NewClient("", "")
	spot.BaseURL = strings.TrimSpace(final.SpotBaseURL)
	spot.HTTPClient = httpClient
	fut := futures.NewClient("", "")
	fut.BaseURL = strings.TrimSpace(final.FuturesBaseURL)
	fut.HTTPClient = httpClient
	return &RESTSource{cfg: final, spot: spot, futures: fut}, nil
}

func (s *RESTSource) Kind() market.DataSource { return market.SourceREST }

// WeightFor charges one kline weight per page the window will need.
func (s *RESTSource) WeightFor(q Query) int {
	limit := pageLimit(q.Market)
	expected := market.ExpectedCount(q.Window, q.Interval)
	pages := (expected + int64(limit) - 1) / int64(limit)
	if pages < 1 {
		pages = 1
	}
	return int(pages) * s.cfg.KlineWeight
}

func pageLimit(m market.MarketType) int {
	if m == market.MarketSpot {
		return spotPageLimit
	}
	return futuresPageLimit
}

func (s *RESTSource) FetchRange(ctx context.Context, q Query) ([]market.Candle, error) {
	if q.Chart != market.ChartKlines {
		return nil, fmt.Errorf("REST source serves klines only, got %s", q.Chart)
	}
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	step := q.Interval.Millis()
	limit := pageLimit(q.Market)

	var out []market.Candle
	cursor := q.Window.Start
	for cursor <= q.Window.End {
		var page []market.Candle
		var err error
		if q.Market == market.MarketSpot {
			page, err = s.fetchSpotPage(ctx, symbol, q.Interval.Key, cursor, q.Window.End, limit)
		} else {
			page, err = s.fetchFuturesPage(ctx, symbol, q.Interval.Key, cursor, q.Window.End, limit)
		}
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		if len(page) < limit {
			break
		}
		cursor = page[len(page)-1].OpenTime + step
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	logger.Debugf("[rest] %s %s %s -> %d rows", symbol, q.Interval.Key, q.Window, len(out))
	return out, nil
}

func (s *RESTSource) fetchSpotPage(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]market.Candle, error) {
	kls, err := s.spot.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start).
		EndTime(end).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:            kl.OpenTime,
			Open:                parseFloat(kl.Open),
			High:                parseFloat(kl.High),
			Low:                 parseFloat(kl.Low),
			Close:               parseFloat(kl.Close),
			Volume:              parseFloat(kl.Volume),
			CloseTime:           kl.CloseTime,
			QuoteVolume:         parseFloat(kl.QuoteAssetVolume),
			Trades:              kl.TradeNum,
			TakerBuyVolume:      parseFloat(kl.TakerBuyBaseAssetVolume),
			TakerBuyQuoteVolume: parseFloat(kl.TakerBuyQuoteAssetVolume),
			Source:              market.SourceREST,
		})
	}
	return out, nil
}

func (s *RESTSource) fetchFuturesPage(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]market.Candle, error) {
	kls, err := s.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start).
		EndTime(end).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:            kl.OpenTime,
			Open:                parseFloat(kl.Open),
			High:                parseFloat(kl.High),
			Low:                 parseFloat(kl.Low),
			Close:               parseFloat(kl.Close),
			Volume:              parseFloat(kl.Volume),
			CloseTime:           kl.CloseTime,
			QuoteVolume:         parseFloat(kl.QuoteAssetVolume),
			Trades:              kl.TradeNum,
			TakerBuyVolume:      parseFloat(kl.TakerBuyBaseAssetVolume),
			TakerBuyQuoteVolume: parseFloat(kl.TakerBuyQuoteAssetVolume),
			Source:              market.SourceREST,
		})
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
