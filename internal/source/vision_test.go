package source

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinevault/internal/market"
)

func buildArchive(t *testing.T, name string, rows [][]string) []byte {
	t.Helper()
	var csvBuf bytes.Buffer
	for _, row := range rows {
		for i, f := range row {
			if i > 0 {
				csvBuf.WriteByte(',')
			}
			csvBuf.WriteString(f)
		}
		csvBuf.WriteByte('\n')
	}
	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	f, err := zw.Create(name)
	require.NoError(t, err)
	_, err = f.Write(csvBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return zipBuf.Bytes()
}

func klineRow(openTime int64, step int64, price float64) []string {
	return []string{
		fmt.Sprintf("%d", openTime),
		fmt.Sprintf("%.2f", price),
		fmt.Sprintf("%.2f", price+1),
		fmt.Sprintf("%.2f", price-1),
		fmt.Sprintf("%.2f", price),
		"12.5",
		fmt.Sprintf("%d", openTime+step-1),
		"1250.0",
		"42",
		"6.25",
		"625.0",
		"0",
	}
}

func visionFixture(t *testing.T, day int64, step int64, n int, corrupt bool) *httptest.Server {
	t.Helper()
	var rows [][]string
	for i := 0; i < n; i++ {
		rows = append(rows, klineRow(day+int64(i)*step, step, 100+float64(i)))
	}
	archive := buildArchive(t, "BTCUSDT-1h-2024-01-01.csv", rows)
	sum := sha256.Sum256(archive)
	checksum := hex.EncodeToString(sum[:])
	if corrupt {
		checksum = "deadbeef" + checksum[8:]
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	mux.HandleFunc("/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip.CHECKSUM", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  BTCUSDT-1h-2024-01-01.zip\n", checksum)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func visionQuery(t *testing.T, start, end int64) Query {
	t.Helper()
	iv, err := market.ParseInterval("1h")
	require.NoError(t, err)
	return Query{
		Symbol:   "BTCUSDT",
		Market:   market.MarketSpot,
		Chart:    market.ChartKlines,
		Interval: iv,
		Window:   market.TimeWindow{Start: start, End: end},
	}
}

func TestVisionFetchFullDay(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	srv := visionFixture(t, day, step, 24, false)
	src := NewVisionSource(VisionConfig{BaseURL: srv.URL})

	candles, err := src.FetchRange(context.Background(), visionQuery(t, day, day+23*step))
	require.NoError(t, err)
	require.Len(t, candles, 24)
	assert.Equal(t, day, candles[0].OpenTime)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, int64(42), candles[0].Trades)
	assert.Equal(t, 6.25, candles[0].TakerBuyVolume)
	assert.Equal(t, market.SourceVision, candles[0].Source)
}

func TestVisionFiltersToWindow(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	srv := visionFixture(t, day, step, 24, false)
	src := NewVisionSource(VisionConfig{BaseURL: srv.URL})

	candles, err := src.FetchRange(context.Background(), visionQuery(t, day+6*step, day+8*step))
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, day+6*step, candles[0].OpenTime)
}

func TestVisionMissingArchiveIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	src := NewVisionSource(VisionConfig{BaseURL: srv.URL})

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	_, err := src.FetchRange(context.Background(), visionQuery(t, day, day+time.Hour.Milliseconds()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisionChecksumMismatchIsIntegrityFailure(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	srv := visionFixture(t, day, step, 24, true)
	src := NewVisionSource(VisionConfig{BaseURL: srv.URL})

	_, err := src.FetchRange(context.Background(), visionQuery(t, day, day+23*step))
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Contains(t, integrity.Reason, "checksum")
}

func TestVisionServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	src := NewVisionSource(VisionConfig{BaseURL: srv.URL})

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	_, err := src.FetchRange(context.Background(), visionQuery(t, day, day+time.Hour.Milliseconds()))
	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestVisionRejectsMultiDayWindow(t *testing.T) {
	src := NewVisionSource(VisionConfig{})
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	_, err := src.FetchRange(context.Background(), visionQuery(t, day, day+30*time.Hour.Milliseconds()))
	assert.Error(t, err)
}

func TestVisionNormalizesMicrosecondTimestamps(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stepMS := time.Hour.Milliseconds()
	stepUS := stepMS * 1000
	dayUS := day.UnixMicro()

	var rows [][]string
	rows = append(rows, []string{"open_time", "open", "high", "low", "close", "volume",
		"close_time", "quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore"})
	for i := 0; i < 24; i++ {
		rows = append(rows, klineRow(dayUS+int64(i)*stepUS, stepUS, 100))
	}
	archive := buildArchive(t, "BTCUSDT-1h-2024-01-01.csv", rows)
	sum := sha256.Sum256(archive)

	mux := http.NewServeMux()
	mux.HandleFunc("/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	mux.HandleFunc("/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip.CHECKSUM", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  BTCUSDT-1h-2024-01-01.zip\n", hex.EncodeToString(sum[:]))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	src := NewVisionSource(VisionConfig{BaseURL: srv.URL})

	dayMS := day.UnixMilli()
	candles, err := src.FetchRange(context.Background(), visionQuery(t, dayMS, dayMS+23*stepMS))
	require.NoError(t, err)
	require.Len(t, candles, 24)
	assert.Equal(t, dayMS, candles[0].OpenTime)
	assert.Equal(t, dayMS+stepMS, candles[1].OpenTime)
}
