package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoPriceData = errors.New("no price data for window")
	ErrMisaligned  = errors.New("day-ahead grid is not monotonic and gap-free")
)

// Step is one aligned timestep. All prices share the day-ahead grid.
type Step struct {
	Time time.Time
	// Day is the calendar day offset from the first step.
	Day int

	DayAhead      float64
	FCR           float64
	AFRRPos       float64
	AFRRNeg       float64
	AFRREnergyPos float64
	AFRREnergyNeg float64

	TemperatureC float64
}

// Aligned is a fully materialised, gap-free price grid for one country and window.
type Aligned struct {
	Country   string
	StepHours float64
	Steps     []Step
	// HasEnergy is set when aFRR activation prices were available.
	HasEnergy bool
}

func (a *Aligned) Len() int { return len(a.Steps) }

// StepsPerBlock is the number of steps in one reserve settlement block.
func (a *Aligned) StepsPerBlock() int {
	return stepsIn(BlockDuration, a.StepHours)
}

// StepsPerDay is the number of steps in 24 hours.
func (a *Aligned) StepsPerDay() int {
	return stepsIn(24*time.Hour, a.StepHours)
}

// Days is the number of distinct calendar days covered.
func (a *Aligned) Days() int {
	if len(a.Steps) == 0 {
		return 0
	}
	return a.Steps[len(a.Steps)-1].Day + 1
}

// Column extracts one instrument as a slice.
func (a *Aligned) Column(in Instrument) []float64 {
	out := make([]float64, len(a.Steps))
	for i, s := range a.Steps {
		switch in {
		case DayAhead:
			out[i] = s.DayAhead
		case FCR:
			out[i] = s.FCR
		case AFRRCapacityPos:
			out[i] = s.AFRRPos
		case AFRRCapacityNeg:
			out[i] = s.AFRRNeg
		case AFRREnergyPos:
			out[i] = s.AFRREnergyPos
		case AFRREnergyNeg:
			out[i] = s.AFRREnergyNeg
		}
	}
	return out
}

// Slice returns a view of steps [from, to) sharing the same metadata.
func (a *Aligned) Slice(from, to int) *Aligned {
	if from < 0 {
		from = 0
	}
	if to > len(a.Steps) {
		to = len(a.Steps)
	}
	return &Aligned{Country: a.Country, StepHours: a.StepHours, Steps: a.Steps[from:to], HasEnergy: a.HasEnergy}
}

// Align builds the step grid for country from start over days calendar days.
// A zero start uses the first day-ahead point; days <= 0 uses the whole series.
//
// Policy:
//   - day-ahead defines the grid and must be strictly increasing with a constant step;
//   - block products are forward-filled; steps before the first block point are zero-filled;
//   - block products need at least one point in [start-BlockDuration, end);
//   - aFRR energy series are optional and forward-filled when present.
func Align(set *Set, country string, start time.Time, days int) (*Aligned, error) {
	da, ok := set.Get(country, DayAhead)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoPriceData, country, DayAhead)
	}
	var end time.Time
	if !start.IsZero() && days > 0 {
		end = start.Add(time.Duration(days) * 24 * time.Hour)
	}
	pts := da.Between(start, end)
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoPriceData, country, DayAhead)
	}
	if start.IsZero() {
		start = pts[0].Time
		if days > 0 {
			end = start.Add(time.Duration(days) * 24 * time.Hour)
			pts = da.Between(start, end)
		}
	}
	if end.IsZero() {
		end = pts[len(pts)-1].Time.Add(time.Nanosecond)
	}

	step, err := gridStep(pts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", country, err)
	}

	times := make([]time.Time, len(pts))
	for i, p := range pts {
		times[i] = p.Time
	}

	out := &Aligned{
		Country:   da.Country,
		StepHours: step.Hours(),
		Steps:     make([]Step, len(pts)),
	}
	for i, p := range pts {
		out.Steps[i] = Step{
			Time:         p.Time,
			Day:          dayIndex(pts[0].Time, p.Time),
			DayAhead:     p.Price,
			TemperatureC: SyntheticTemperature(da.Country, p.Time),
		}
	}

	for _, in := range []Instrument{FCR, AFRRCapacityPos, AFRRCapacityNeg} {
		s, ok := set.Get(country, in)
		if !ok || len(s.Between(start.Add(-BlockDuration), end)) == 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNoPriceData, country, in)
		}
		assign(out, in, forwardFill(s.Points, times))
	}

	posE, okPos := set.Get(country, AFRREnergyPos)
	negE, okNeg := set.Get(country, AFRREnergyNeg)
	if okPos && okNeg && len(posE.Points) > 0 && len(negE.Points) > 0 {
		assign(out, AFRREnergyPos, forwardFill(posE.Points, times))
		assign(out, AFRREnergyNeg, forwardFill(negE.Points, times))
		out.HasEnergy = true
	}
	return out, nil
}

func gridStep(pts []Point) (time.Duration, error) {
	if len(pts) < 2 {
		// a single point is treated as one hour
		return time.Hour, nil
	}
	step := pts[1].Time.Sub(pts[0].Time)
	if step <= 0 {
		return 0, fmt.Errorf("%w: non-positive step at %s", ErrMisaligned, pts[1].Time)
	}
	for i := 2; i < len(pts); i++ {
		if d := pts[i].Time.Sub(pts[i-1].Time); d != step {
			return 0, fmt.Errorf("%w: step %s at %s, want %s", ErrMisaligned, d, pts[i].Time, step)
		}
	}
	return step, nil
}

// forwardFill samples points (sorted) at each time, holding the last value.
func forwardFill(points []Point, times []time.Time) []float64 {
	out := make([]float64, len(times))
	j := -1
	for i, t := range times {
		for j+1 < len(points) && !points[j+1].Time.After(t) {
			j++
		}
		if j >= 0 {
			out[i] = points[j].Price
		}
	}
	return out
}

func assign(a *Aligned, in Instrument, vals []float64) {
	for i := range a.Steps {
		switch in {
		case FCR:
			a.Steps[i].FCR = vals[i]
		case AFRRCapacityPos:
			a.Steps[i].AFRRPos = vals[i]
		case AFRRCapacityNeg:
			a.Steps[i].AFRRNeg = vals[i]
		case AFRREnergyPos:
			a.Steps[i].AFRREnergyPos = vals[i]
		case AFRREnergyNeg:
			a.Steps[i].AFRREnergyNeg = vals[i]
		}
	}
}

// dayIndex counts calendar dates from first to t. Dates are taken in each
// timestamp's own location, so 23h and 25h DST days still count as one.
func dayIndex(first, t time.Time) int {
	y0, m0, d0 := first.Date()
	y, m, d := t.Date()
	from := time.Date(y0, m0, d0, 0, 0, 0, 0, time.UTC)
	to := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from) / (24 * time.Hour))
}

func stepsIn(d time.Duration, stepHours float64) int {
	if stepHours <= 0 {
		return 0
	}
	n := int(d.Hours()/stepHours + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}
