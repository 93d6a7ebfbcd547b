package cache

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"klinevault/internal/market"
)

// File layout: 4-byte magic, uint32 row count, then one column after another
// in schema order, column-major, 8 bytes per cell, little endian. Fixed-width
// cells keep column offsets computable so a reader touches only the byte
// ranges it asked for. The content checksum lives in the index, not here.
var fileMagic = [4]byte{'K', 'V', 'C', '1'}

const (
	headerSize = 8
	cellSize   = 8
)

// Column names one Candle field in the on-disk schema.
type Column int

const (
	ColOpenTime Column = iota
	ColOpen
	ColHigh
	ColLow
	ColClose
	ColVolume
	ColCloseTime
	ColQuoteVolume
	ColTrades
	ColTakerBuyVolume
	ColTakerBuyQuoteVolume

	columnCount
)

func (c Column) String() string {
	names := [...]string{
		"open_time", "open", "high", "low", "close", "volume",
		"close_time", "quote_volume", "trades", "taker_buy_volume", "taker_buy_quote_volume",
	}
	if c < 0 || int(c) >= len(names) {
		return "unknown"
	}
	return names[c]
}

// AllColumns selects the full schema.
var AllColumns = func() []Column {
	cols := make([]Column, columnCount)
	for i := range cols {
		cols[i] = Column(i)
	}
	return cols
}()

func encodeFile(w io.Writer, candles []market.Candle) error {
	if _, err := w.Write(fileMagic[:]); err != nil {
		return err
	}
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(candles)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	buf := make([]byte, cellSize)
	for col := Column(0); col < columnCount; col++ {
		for i := range candles {
			binary.LittleEndian.PutUint64(buf, cellBits(&candles[i], col))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func cellBits(c *market.Candle, col Column) uint64 {
	switch col {
	case ColOpenTime:
		return uint64(c.OpenTime)
	case ColOpen:
		return math.Float64bits(c.Open)
	case ColHigh:
		return math.Float64bits(c.High)
	case ColLow:
		return math.Float64bits(c.Low)
	case ColClose:
		return math.Float64bits(c.Close)
	case ColVolume:
		return math.Float64bits(c.Volume)
	case ColCloseTime:
		return uint64(c.CloseTime)
	case ColQuoteVolume:
		return math.Float64bits(c.QuoteVolume)
	case ColTrades:
		return uint64(c.Trades)
	case ColTakerBuyVolume:
		return math.Float64bits(c.TakerBuyVolume)
	case ColTakerBuyQuoteVolume:
		return math.Float64bits(c.TakerBuyQuoteVolume)
	default:
		return 0
	}
}

func setCell(c *market.Candle, col Column, bits uint64) {
	switch col {
	case ColOpenTime:
		c.OpenTime = int64(bits)
	case ColOpen:
		c.Open = math.Float64frombits(bits)
	case ColHigh:
		c.High = math.Float64frombits(bits)
	case ColLow:
		c.Low = math.Float64frombits(bits)
	case ColClose:
		c.Close = math.Float64frombits(bits)
	case ColVolume:
		c.Volume = math.Float64frombits(bits)
	case ColCloseTime:
		c.CloseTime = int64(bits)
	case ColQuoteVolume:
		c.QuoteVolume = math.Float64frombits(bits)
	case ColTrades:
		c.Trades = int64(bits)
	case ColTakerBuyVolume:
		c.TakerBuyVolume = math.Float64frombits(bits)
	case ColTakerBuyQuoteVolume:
		c.TakerBuyQuoteVolume = math.Float64frombits(bits)
	}
}

func columnOffset(col Column, rows int64) int64 {
	return headerSize + int64(col)*rows*cellSize
}

// decodeColumns reads the header plus only the requested columns. The open
// time key is always included.
func decodeColumns(r io.ReaderAt, size int64, cols []Column) ([]market.Candle, error) {
	if size < headerSize {
		return nil, fmt.Errorf("file too small (%d bytes)", size)
	}
	head := make([]byte, headerSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, err
	}
	if [4]byte(head[:4]) != fileMagic {
		return nil, fmt.Errorf("bad magic %q", head[:4])
	}
	rows := int64(binary.LittleEndian.Uint32(head[4:8]))
	if want := headerSize + rows*int64(columnCount)*cellSize; size != want {
		return nil, fmt.Errorf("size %d does not match %d rows", size, rows)
	}
	if rows == 0 {
		return nil, nil
	}
	selected := selectColumns(cols)
	out := make([]market.Candle, rows)
	buf := make([]byte, rows*cellSize)
	for _, col := range selected {
		if _, err := r.ReadAt(buf, columnOffset(col, rows)); err != nil {
			return nil, err
		}
		for i := int64(0); i < rows; i++ {
			setCell(&out[i], col, binary.LittleEndian.Uint64(buf[i*cellSize:]))
		}
	}
	return out, nil
}

func selectColumns(cols []Column) []Column {
	if len(cols) == 0 {
		return AllColumns
	}
	seen := make(map[Column]bool, len(cols)+1)
	out := []Column{ColOpenTime}
	seen[ColOpenTime] = true
	for _, c := range cols {
		if c < 0 || c >= columnCount || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
