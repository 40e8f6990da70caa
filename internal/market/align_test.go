package market

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quarterHours(n int, price func(i int) float64) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{Time: t0.Add(time.Duration(i) * 15 * time.Minute), Price: price(i)}
	}
	return out
}

func blocks(n int, price func(i int) float64) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{Time: t0.Add(time.Duration(i) * BlockDuration), Price: price(i)}
	}
	return out
}

func testSet(days int) *Set {
	s := NewSet()
	s.Add("de", DayAhead, quarterHours(96*days, func(i int) float64 { return float64(i % 96) })...)
	s.Add("DE", FCR, blocks(6*days, func(i int) float64 { return 10 + float64(i) })...)
	s.Add("DE", AFRRCapacityPos, blocks(6*days, func(i int) float64 { return 5 })...)
	s.Add("DE", AFRRCapacityNeg, blocks(6*days, func(i int) float64 { return 3 })...)
	return s
}

func TestAlignForwardFillsBlocks(t *testing.T) {
	a, err := Align(testSet(2), "DE", time.Time{}, 0)
	require.NoError(t, err)

	assert.Equal(t, "DE", a.Country)
	assert.Equal(t, 192, a.Len())
	assert.InDelta(t, 0.25, a.StepHours, 1e-12)
	assert.Equal(t, 16, a.StepsPerBlock())
	assert.Equal(t, 96, a.StepsPerDay())
	assert.Equal(t, 2, a.Days())
	assert.False(t, a.HasEnergy)

	// constant within a block, stepping at block boundaries
	assert.Equal(t, 10.0, a.Steps[0].FCR)
	assert.Equal(t, 10.0, a.Steps[15].FCR)
	assert.Equal(t, 11.0, a.Steps[16].FCR)
	assert.Equal(t, 21.0, a.Steps[191].FCR)
	assert.Equal(t, 5.0, a.Steps[100].AFRRPos)
	assert.Equal(t, 3.0, a.Steps[100].AFRRNeg)

	assert.Equal(t, 0, a.Steps[95].Day)
	assert.Equal(t, 1, a.Steps[96].Day)

	fcr := a.Column(FCR)
	assert.Len(t, fcr, 192)
	assert.Equal(t, 11.0, fcr[20])
}

func TestAlignWindow(t *testing.T) {
	a, err := Align(testSet(3), "DE", t0.Add(24*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, 96, a.Len())
	assert.Equal(t, t0.Add(24*time.Hour), a.Steps[0].Time)
	assert.Equal(t, 16.0, a.Steps[0].FCR)
	assert.Equal(t, 0, a.Steps[0].Day)

	a, err = Align(testSet(3), "DE", time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 192, a.Len())
}

func TestAlignZeroFillsBeforeFirstBlock(t *testing.T) {
	s := testSet(1)
	s.series[seriesKey{"DE", FCR}].Points = blocks(6, func(i int) float64 { return 7 })[1:]
	a, err := Align(s, "DE", time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Steps[0].FCR)
	assert.Equal(t, 7.0, a.Steps[16].FCR)
}

func TestAlignMissingData(t *testing.T) {
	_, err := Align(testSet(1), "FR", time.Time{}, 0)
	assert.ErrorIs(t, err, ErrNoPriceData)

	s := testSet(1)
	delete(s.series, seriesKey{"DE", AFRRCapacityNeg})
	_, err = Align(s, "DE", time.Time{}, 0)
	assert.ErrorIs(t, err, ErrNoPriceData)

	// window past the end of the data
	_, err = Align(testSet(1), "DE", t0.Add(72*time.Hour), 1)
	assert.ErrorIs(t, err, ErrNoPriceData)
}

func TestAlignRejectsGaps(t *testing.T) {
	s := testSet(1)
	da := s.series[seriesKey{"DE", DayAhead}]
	da.Points = append(da.Points[:10], da.Points[11:]...)
	_, err := Align(s, "DE", time.Time{}, 0)
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestAlignDayIndexAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	start := time.Date(2024, 3, 30, 0, 0, 0, 0, berlin)

	// 24h + 23h (spring forward) + 24h
	s := NewSet()
	for i := 0; i < 71; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		s.Add("DE", DayAhead, Point{Time: at, Price: 1})
		if i%4 == 0 {
			s.Add("DE", FCR, Point{Time: at, Price: 1})
			s.Add("DE", AFRRCapacityPos, Point{Time: at, Price: 1})
			s.Add("DE", AFRRCapacityNeg, Point{Time: at, Price: 1})
		}
	}
	a, err := Align(s, "DE", time.Time{}, 0)
	require.NoError(t, err)
	require.Equal(t, 71, a.Len())

	assert.Equal(t, 0, a.Steps[23].Day)
	assert.Equal(t, 1, a.Steps[24].Day)
	assert.Equal(t, 1, a.Steps[46].Day)
	assert.Equal(t, 2, a.Steps[47].Day)
	assert.True(t, a.Steps[47].Time.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, berlin)))
	assert.Equal(t, 2, a.Steps[70].Day)
}

func TestAlignEnergySeries(t *testing.T) {
	s := testSet(1)
	s.Add("DE", AFRREnergyPos, quarterHours(96, func(i int) float64 { return 50 })...)
	s.Add("DE", AFRREnergyNeg, quarterHours(96, func(i int) float64 { return 20 })...)
	a, err := Align(s, "DE", time.Time{}, 0)
	require.NoError(t, err)
	assert.True(t, a.HasEnergy)
	assert.Equal(t, 50.0, a.Steps[40].AFRREnergyPos)
	assert.Equal(t, 20.0, a.Steps[40].AFRREnergyNeg)
}

func TestSliceAndCountries(t *testing.T) {
	s := testSet(1)
	s.Add("AT", DayAhead, quarterHours(4, func(int) float64 { return 1 })...)
	assert.Equal(t, []string{"AT", "DE"}, s.Countries())

	a, err := Align(s, "DE", time.Time{}, 0)
	require.NoError(t, err)
	sub := a.Slice(90, 200)
	assert.Equal(t, 6, sub.Len())
	assert.Equal(t, a.StepHours, sub.StepHours)
}

func TestParseInstrument(t *testing.T) {
	in, err := ParseInstrument(" FCR ")
	require.NoError(t, err)
	assert.Equal(t, FCR, in)
	_, err = ParseInstrument("intraday")
	assert.Error(t, err)
}

func TestSyntheticTemperature(t *testing.T) {
	// 1 Jan, midnight: day 1 of year, hour 0
	got := SyntheticTemperature("de", t0)
	assert.InDelta(t, 10+12*0.01721336, got, 1e-6)

	noon := time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)
	assert.Greater(t, SyntheticTemperature("HU", noon), SyntheticTemperature("CH", noon))

	assert.InDelta(t, 25+12*0.01721336, SyntheticTemperature("XX", t0), 1e-6)
}
