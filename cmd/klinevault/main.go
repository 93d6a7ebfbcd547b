package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"klinevault/internal/app"
	kvcfg "klinevault/internal/config"
	"klinevault/internal/fcp"
	"klinevault/internal/logger"
	"klinevault/internal/market"
	"klinevault/internal/pkg/symbol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("KLINEVAULT_CONFIG")
	var cfg *kvcfg.Config
	if cfgPath == "" {
		cfg = kvcfg.Default()
	} else {
		var err error
		cfg, err = kvcfg.Load(cfgPath)
		if err != nil {
			log.Fatalf("loading config failed: %v", err)
		}
	}
	logger.SetLevel(cfg.App.LogLevel)

	m, err := parseMarket(getenv("KLINEVAULT_MARKET", "spot"))
	if err != nil {
		log.Fatalf("%v", err)
	}
	a, err := app.New(cfg, m, market.ChartKlines)
	if err != nil {
		log.Fatalf("building app failed: %v", err)
	}
	defer a.Close()

	if cfgPath != "" {
		if err := kvcfg.Watch(cfgPath, func(next *kvcfg.Config) {
			logger.SetLevel(next.App.LogLevel)
			a.ApplyRateLimit(next.RateLimit.WeightPerMinute)
		}); err != nil {
			logger.Warnf("config watch unavailable: %v", err)
		}
	}

	pair := symbol.Normalize(getenv("KLINEVAULT_SYMBOL", "BTCUSDT"))
	if pair == "" {
		log.Fatalf("invalid KLINEVAULT_SYMBOL")
	}
	iv, err := market.ParseInterval(getenv("KLINEVAULT_INTERVAL", "1m"))
	if err != nil {
		log.Fatalf("%v", err)
	}
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := os.Getenv("KLINEVAULT_START"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			log.Fatalf("invalid KLINEVAULT_START: %v", err)
		}
	}
	if v := os.Getenv("KLINEVAULT_END"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			log.Fatalf("invalid KLINEVAULT_END: %v", err)
		}
	}
	policy, err := parsePolicy(getenv("KLINEVAULT_POLICY", "auto"))
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger.Infof("fetching %s %s %s ~ %s (%s)", pair, iv.Key,
		start.Format(time.RFC3339), end.Format(time.RFC3339), policy)
	candles, report, err := a.Orchestrator.GetData(ctx, pair, iv, start, end, policy)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	printReport(candles, report)
}

func printReport(candles []market.Candle, report fcp.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"metric", "value"})
	t.AppendRows([]table.Row{
		{"window", report.Window.String()},
		{"expected", report.Expected},
		{"returned", report.Returned},
		{"segments", report.Segments},
		{"cache hits", report.CacheHits},
		{"vision served", report.VisionServed},
		{"rest served", report.RESTServed},
		{"cache writes", report.CacheWrites},
		{"empty segments", report.EmptySegments},
		{"gaps", len(report.Gaps)},
		{"failed segments", len(report.Failures)},
		{"duration", report.Duration.Round(time.Millisecond)},
	})
	t.Render()
	if len(candles) > 0 {
		first, last := candles[0], candles[len(candles)-1]
		fmt.Printf("first: %s open=%.8g (%s)\n",
			time.UnixMilli(first.OpenTime).UTC().Format(time.RFC3339), first.Open, first.Source)
		fmt.Printf("last:  %s close=%.8g (%s)\n",
			time.UnixMilli(last.OpenTime).UTC().Format(time.RFC3339), last.Close, last.Source)
	}
	for _, f := range report.Failures {
		logger.Warnf("failed segment %s via %s after %d attempts: %s",
			f.Window, f.Source, f.Attempts, f.Reason)
	}
}

func parseMarket(v string) (market.MarketType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "spot":
		return market.MarketSpot, nil
	case "um", "futures", "futures-um":
		return market.MarketFuturesUM, nil
	case "cm", "futures-cm":
		return market.MarketFuturesCM, nil
	default:
		return 0, fmt.Errorf("unknown market type: %s", v)
	}
}

func parsePolicy(v string) (market.SourcePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "auto":
		return market.PolicyAuto, nil
	case "cache", "cache_only":
		return market.PolicyCacheOnly, nil
	case "vision", "vision_only":
		return market.PolicyVisionOnly, nil
	case "rest", "rest_only":
		return market.PolicyRESTOnly, nil
	default:
		return 0, fmt.Errorf("unknown source policy: %s", v)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
