package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Instrument identifies a traded product.
// Keep these values stable; they are the keys of the JSON price file.
type Instrument string

const (
	DayAhead        Instrument = "day_ahead"
	FCR             Instrument = "fcr"
	AFRRCapacityPos Instrument = "afrr_capacity_pos"
	AFRRCapacityNeg Instrument = "afrr_capacity_neg"
	AFRREnergyPos   Instrument = "afrr_energy_pos"
	AFRREnergyNeg   Instrument = "afrr_energy_neg"
)

// BlockDuration is the settlement block of the reserve capacity products.
const BlockDuration = 4 * time.Hour

// Instruments lists every known instrument in a stable order.
func Instruments() []Instrument {
	return []Instrument{DayAhead, FCR, AFRRCapacityPos, AFRRCapacityNeg, AFRREnergyPos, AFRREnergyNeg}
}

func ParseInstrument(s string) (Instrument, error) {
	in := Instrument(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Instruments() {
		if in == known {
			return in, nil
		}
	}
	return "", fmt.Errorf("unknown instrument %q", s)
}

// Point is one price observation. Prices are per MWh (energy) or per MW per hour (capacity).
type Point struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// Series is a time-ordered price series for one (country, instrument) pair.
type Series struct {
	Country    string
	Instrument Instrument
	Points     []Point
}

// Sort orders points by time.
func (s *Series) Sort() {
	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Time.Before(s.Points[j].Time) })
}

// Between returns points with start <= t < end. Zero bounds are open.
func (s *Series) Between(start, end time.Time) []Point {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if !start.IsZero() && p.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !p.Time.Before(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

type seriesKey struct {
	country    string
	instrument Instrument
}

// Set holds all price series keyed by country and instrument.
// A Set is read-only once loaded and may be shared between goroutines.
type Set struct {
	series map[seriesKey]*Series
}

func NewSet() *Set {
	return &Set{series: map[seriesKey]*Series{}}
}

// Add appends points to the (country, instrument) series and keeps it sorted.
func (s *Set) Add(country string, instrument Instrument, points ...Point) {
	k := seriesKey{strings.ToUpper(country), instrument}
	cur, ok := s.series[k]
	if !ok {
		cur = &Series{Country: k.country, Instrument: instrument}
		s.series[k] = cur
	}
	cur.Points = append(cur.Points, points...)
	cur.Sort()
}

// Get returns the series, if present.
func (s *Set) Get(country string, instrument Instrument) (*Series, bool) {
	cur, ok := s.series[seriesKey{strings.ToUpper(country), instrument}]
	return cur, ok
}

// Countries returns the sorted country codes with a day-ahead series.
func (s *Set) Countries() []string {
	var out []string
	for k := range s.series {
		if k.instrument == DayAhead {
			out = append(out, k.country)
		}
	}
	sort.Strings(out)
	return out
}
