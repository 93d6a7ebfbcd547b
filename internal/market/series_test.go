package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleAt(ts int64, src DataSource, price float64) Candle {
	return Candle{
		OpenTime:  ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		CloseTime: ts + 59_999,
		Source:    src,
	}
}

func gridSeries(start int64, step int64, n int, src DataSource, price float64) []Candle {
	out := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candleAt(start+int64(i)*step, src, price))
	}
	return out
}

func TestMergeDeduplicatesByPriority(t *testing.T) {
	step := int64(60_000)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	cacheRows := gridSeries(base, step, 3, SourceCache, 100)
	restRows := gridSeries(base, step, 5, SourceREST, 200)
	visionRows := gridSeries(base+2*step, step, 2, SourceVision, 300)

	merged := Merge(restRows, cacheRows, visionRows)
	require.Len(t, merged, 5)
	// strictly increasing, unique
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i].OpenTime, merged[i-1].OpenTime)
	}
	// cache beats both for the overlap, vision beats REST
	assert.Equal(t, SourceCache, merged[0].Source)
	assert.Equal(t, SourceCache, merged[1].Source)
	assert.Equal(t, SourceCache, merged[2].Source)
	assert.Equal(t, SourceVision, merged[3].Source)
	assert.Equal(t, SourceREST, merged[4].Source)
	assert.Equal(t, 100.0, merged[2].Open)
}

func TestMergeEmpty(t *testing.T) {
	assert.Nil(t, Merge(nil, nil))
}

func TestFindGaps(t *testing.T) {
	iv, err := ParseInterval("1m")
	require.NoError(t, err)
	step := iv.Millis()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	w := TimeWindow{Start: base, End: base + 9*step}

	full := gridSeries(base, step, 10, SourceREST, 1)
	assert.Empty(t, FindGaps(full, w, iv))

	// drop rows 3,4 and the final row
	var holed []Candle
	for i, c := range full {
		if i == 3 || i == 4 || i == 9 {
			continue
		}
		holed = append(holed, c)
	}
	gaps := FindGaps(holed, w, iv)
	require.Len(t, gaps, 2)
	assert.Equal(t, base+3*step, gaps[0].From)
	assert.Equal(t, base+4*step, gaps[0].To)
	assert.Equal(t, int64(2), gaps[0].Count)
	assert.Equal(t, base+9*step, gaps[1].From)
	assert.Equal(t, int64(1), gaps[1].Count)
}

func TestFindGapsEmptySeries(t *testing.T) {
	iv, err := ParseInterval("1m")
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	w := TimeWindow{Start: base, End: base + 4*iv.Millis()}

	gaps := FindGaps(nil, w, iv)
	require.Len(t, gaps, 1)
	assert.Equal(t, int64(5), gaps[0].Count)
}

func TestValidateSeries(t *testing.T) {
	iv, err := ParseInterval("1m")
	require.NoError(t, err)
	step := iv.Millis()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	w := TimeWindow{Start: base, End: base + 9*step}

	good := gridSeries(base, step, 10, SourceVision, 42)
	assert.NoError(t, ValidateSeries(good, w, iv))

	dup := append(gridSeries(base, step, 2, SourceVision, 42), candleAt(base+step, SourceVision, 42))
	assert.Error(t, ValidateSeries(dup, w, iv))

	offGrid := []Candle{candleAt(base+30_000, SourceVision, 42)}
	assert.Error(t, ValidateSeries(offGrid, w, iv))

	outside := []Candle{candleAt(base - step, SourceVision, 42)}
	assert.Error(t, ValidateSeries(outside, w, iv))

	bad := candleAt(base, SourceVision, 42)
	bad.High = bad.Low - 1
	assert.Error(t, ValidateSeries([]Candle{bad}, w, iv))
}

func TestIsCompleteDay(t *testing.T) {
	iv, err := ParseInterval("1h")
	require.NoError(t, err)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	w := TimeWindow{Start: day, End: day + 23*iv.Millis()}

	assert.True(t, IsCompleteDay(gridSeries(day, iv.Millis(), 24, SourceVision, 1), w, iv))
	assert.False(t, IsCompleteDay(gridSeries(day, iv.Millis(), 23, SourceVision, 1), w, iv))
}
