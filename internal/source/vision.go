package source

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"klinevault/internal/logger"
	"klinevault/internal/market"
	"klinevault/internal/pkg/circuit"
)

// VisionConfig configures the bulk archive source.
type VisionConfig struct {
	BaseURL string
	Timeout time.Duration
}

func (c VisionConfig) withDefaults() VisionConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://data.binance.vision"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// VisionSource downloads daily kline archives from the public bulk endpoint.
// Archives lag the live market by roughly a day and a half but carry no rate
// limit and always hold complete days.
type VisionSource struct {
	cfg     VisionConfig
	client  *http.Client
	breaker *circuit.Breaker
}

func NewVisionSource(cfg VisionConfig) *VisionSource {
	final := cfg.withDefaults()
	return &VisionSource{
		cfg:     final,
		client:  &http.Client{Timeout: final.Timeout},
		breaker: circuit.NewBreaker("vision", 5, 30*time.Second),
	}
}

func (s *VisionSource) Kind() market.DataSource { return market.SourceVision }

// WeightFor is zero: the archive host is not metered by request weight.
func (s *VisionSource) WeightFor(Query) int { return 0 }

func (s *VisionSource) FetchRange(ctx context.Context, q Query) ([]market.Candle, error) {
	if q.Chart != market.ChartKlines {
		return nil, fmt.Errorf("vision source serves klines only, got %s", q.Chart)
	}
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	day := market.DayStart(q.Window.Start)
	if market.DayStart(q.Window.End) != day {
		return nil, fmt.Errorf("vision query must stay within one UTC day, got %s", q.Window)
	}
	archiveURL, name := s.archiveURL(symbol, q.Interval.Key, q.Market, day)

	payload, err := s.download(ctx, archiveURL)
	if err != nil {
		return nil, err
	}
	sum, err := s.download(ctx, archiveURL+".CHECKSUM")
	if err != nil {
		return nil, err
	}
	if err := verifyChecksum(payload, sum); err != nil {
		return nil, err
	}
	rows, err := readArchiveCSV(payload, name)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseVisionRow(row)
		if err != nil {
			return nil, &IntegrityError{Reason: fmt.Sprintf("%s row %d", name, i), Err: err}
		}
		if !q.Window.Contains(c.OpenTime) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	logger.Debugf("[vision] %s -> %d rows", name, len(out))
	return out, nil
}

func (s *VisionSource) archiveURL(symbol, interval string, m market.MarketType, day int64) (string, string) {
	date := time.UnixMilli(day).UTC().Format("2006-01-02")
	name := fmt.Sprintf("%s-%s-%s.zip", symbol, interval, date)
	var prefix string
	switch m {
	case market.MarketSpot:
		prefix = "data/spot/daily/klines"
	case market.MarketFuturesUM:
		prefix = "data/futures/um/daily/klines"
	case market.MarketFuturesCM:
		prefix = "data/futures/cm/daily/klines"
	}
	url := fmt.Sprintf("%s/%s/%s/%s/%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), prefix, symbol, interval, name)
	return url, name
}

// download fetches one archive object. A breaker guards the endpoint: when
// downloads keep failing at the transport level the archive tier steps aside
// and lets REST serve.
func (s *VisionSource) download(ctx context.Context, url string) ([]byte, error) {
	if !s.breaker.Allow() {
		return nil, Transient(fmt.Errorf("vision endpoint circuit open"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, Transient(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// the endpoint answered; only the object is missing
		s.breaker.RecordSuccess()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 500:
		s.breaker.RecordFailure()
		return nil, Transient(fmt.Errorf("vision returned %d for %s", resp.StatusCode, url))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("vision returned %d for %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, Transient(err)
	}
	s.breaker.RecordSuccess()
	return body, nil
}

// verifyChecksum compares the archive against its published SHA-256. The
// checksum file format is "<hex digest>  <filename>".
func verifyChecksum(payload, sumFile []byte) error {
	fields := strings.Fields(string(sumFile))
	if len(fields) == 0 {
		return &IntegrityError{Reason: "empty checksum file"}
	}
	want := strings.ToLower(fields[0])
	got := sha256.Sum256(payload)
	if hex.EncodeToString(got[:]) != want {
		return &IntegrityError{Reason: "archive checksum mismatch"}
	}
	return nil
}

func readArchiveCSV(payload []byte, name string) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, &IntegrityError{Reason: "corrupt zip " + name, Err: err}
	}
	if len(zr.File) == 0 {
		return nil, &IntegrityError{Reason: "empty zip " + name}
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return nil, &IntegrityError{Reason: "unreadable zip entry", Err: err}
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &IntegrityError{Reason: "malformed csv " + name, Err: err}
	}
	// newer spot archives carry a header row
	if len(rows) > 0 && !isNumeric(rows[0][0]) {
		rows = rows[1:]
	}
	return rows, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}

func parseVisionRow(row []string) (market.Candle, error) {
	if len(row) < 11 {
		return market.Candle{}, fmt.Errorf("expected 11+ columns, got %d", len(row))
	}
	openTime, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("open time: %w", err)
	}
	closeTime, err := strconv.ParseInt(strings.TrimSpace(row[6]), 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("close time: %w", err)
	}
	trades, err := strconv.ParseInt(strings.TrimSpace(row[8]), 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("trade count: %w", err)
	}
	return market.Candle{
		OpenTime:            normalizeMillis(openTime),
		Open:                parseFloat(row[1]),
		High:                parseFloat(row[2]),
		Low:                 parseFloat(row[3]),
		Close:               parseFloat(row[4]),
		Volume:              parseFloat(row[5]),
		CloseTime:           normalizeMillis(closeTime),
		QuoteVolume:         parseFloat(row[7]),
		Trades:              trades,
		TakerBuyVolume:      parseFloat(row[9]),
		TakerBuyQuoteVolume: parseFloat(row[10]),
		Source:              market.SourceVision,
	}, nil
}

// normalizeMillis folds microsecond timestamps (used by newer spot archives)
// back to milliseconds.
func normalizeMillis(ts int64) int64 {
	if ts > 1e14 {
		return ts / 1000
	}
	return ts
}
