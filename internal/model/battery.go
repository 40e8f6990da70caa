package model

import (
	"errors"
	"fmt"
	"math"

	"bess-dispatch/internal/ledger"
)

var ErrInvalidParams = errors.New("invalid battery parameters")

// BatteryParams defines the physical parameters of the battery.
// Units:
// - CapacityKWh: kWh (nominal)
// - RatedPowerKW: kW
// - Efficiencies: (0, 1]
// - SOCMin/SOCMax: fraction of fade-adjusted capacity
// - MaxCRate: 1/h
type BatteryParams struct {
	CapacityKWh         float64
	RatedPowerKW        float64
	ChargeEfficiency    float64
	DischargeEfficiency float64
	SOCMin              float64
	SOCMax              float64
	MaxCRate            float64

	OptimalTemperatureC float64
	// HighSOCDerating is the SOC fraction above which charge power tapers.
	HighSOCDerating float64
	// LowSOCDerating is the SOC fraction below which discharge power tapers.
	LowSOCDerating float64
	DeratingFloor  float64

	// Capacity fade multiplies by FadeDecay every CyclesPerFadeStep weighted cycles.
	FadeDecay         float64
	CyclesPerFadeStep float64
}

// DefaultParams returns the parameters of a 4.5 MWh / 2.2 MW containerised unit.
func DefaultParams() BatteryParams {
	return BatteryParams{
		CapacityKWh:         4472,
		RatedPowerKW:        2236,
		ChargeEfficiency:    0.92,
		DischargeEfficiency: 0.94,
		SOCMin:              0.05,
		SOCMax:              0.95,
		MaxCRate:            0.5,
		OptimalTemperatureC: 25,
		HighSOCDerating:     0.9,
		LowSOCDerating:      0.1,
		DeratingFloor:       0.2,
		FadeDecay:           0.9995,
		CyclesPerFadeStep:   100,
	}
}

// BatteryState captures mutable state. It is owned by exactly one Battery.
type BatteryState struct {
	SOCKWh       float64
	CapacityFade float64
	TemperatureC float64
	// WeightedCycles is the DoD-weighted cycle counter since the last fade step.
	WeightedCycles float64
	// TotalWeightedCycles never wraps.
	TotalWeightedCycles float64
	FadeSteps           int
	Status              Status
	Action              Action
}

// Battery bundles params, state and the transaction ledger of one simulation run.
type Battery struct {
	Params BatteryParams
	State  BatteryState
	Ledger *ledger.Ledger
}

// NewBattery validates params and returns a battery at initialSOC (fraction of capacity).
func NewBattery(params BatteryParams, initialSOC float64) (*Battery, error) {
	b := &Battery{
		Params: params,
		State: BatteryState{
			SOCKWh:       initialSOC * params.CapacityKWh,
			CapacityFade: 1,
			TemperatureC: params.OptimalTemperatureC,
			Action:       ActionIdle,
		},
		Ledger: ledger.New(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if initialSOC < params.SOCMin || initialSOC > params.SOCMax {
		return nil, fmt.Errorf("%w: initial SOC %.3f outside [%.3f, %.3f]", ErrInvalidParams, initialSOC, params.SOCMin, params.SOCMax)
	}
	b.refreshStatus()
	return b, nil
}

func (b *Battery) Validate() error {
	p := b.Params
	switch {
	case p.CapacityKWh <= 0:
		return fmt.Errorf("%w: CapacityKWh must be > 0", ErrInvalidParams)
	case p.RatedPowerKW <= 0:
		return fmt.Errorf("%w: RatedPowerKW must be > 0", ErrInvalidParams)
	case p.ChargeEfficiency <= 0 || p.ChargeEfficiency > 1:
		return fmt.Errorf("%w: ChargeEfficiency must be in (0, 1]", ErrInvalidParams)
	case p.DischargeEfficiency <= 0 || p.DischargeEfficiency > 1:
		return fmt.Errorf("%w: DischargeEfficiency must be in (0, 1]", ErrInvalidParams)
	case p.SOCMin < 0 || p.SOCMax > 1 || p.SOCMin >= p.SOCMax:
		return fmt.Errorf("%w: SOCMin/SOCMax must satisfy 0<=SOCMin<SOCMax<=1", ErrInvalidParams)
	case p.MaxCRate <= 0:
		return fmt.Errorf("%w: MaxCRate must be > 0", ErrInvalidParams)
	case p.DeratingFloor <= 0 || p.DeratingFloor > 1:
		return fmt.Errorf("%w: DeratingFloor must be in (0, 1]", ErrInvalidParams)
	case p.FadeDecay <= 0 || p.FadeDecay > 1:
		return fmt.Errorf("%w: FadeDecay must be in (0, 1]", ErrInvalidParams)
	case p.CyclesPerFadeStep <= 0:
		return fmt.Errorf("%w: CyclesPerFadeStep must be > 0", ErrInvalidParams)
	}
	return nil
}

// UsableCapacityKWh is the nominal capacity after fade.
func (b *Battery) UsableCapacityKWh() float64 {
	return b.Params.CapacityKWh * b.State.CapacityFade
}

func (b *Battery) MinSOCKWh() float64 { return b.UsableCapacityKWh() * b.Params.SOCMin }
func (b *Battery) MaxSOCKWh() float64 { return b.UsableCapacityKWh() * b.Params.SOCMax }

// SOCFraction is the stored energy relative to the fade-adjusted capacity.
func (b *Battery) SOCFraction() float64 {
	return b.State.SOCKWh / b.UsableCapacityKWh()
}

// TemperatureFactor derates power by operating temperature.
// The breakpoints are evaluated in order and are intentionally discontinuous.
func (b *Battery) TemperatureFactor() float64 {
	return TemperatureFactor(b.State.TemperatureC, b.Params.OptimalTemperatureC)
}

func TemperatureFactor(tempC, optimalC float64) float64 {
	diff := math.Abs(tempC - optimalC)
	switch {
	case tempC < -10:
		return 0.7
	case tempC > 45:
		return 0.8
	case diff <= 10:
		return 1.0
	default:
		return math.Max(0.85, 1.0-(diff-10)*0.01)
	}
}

// CRatePowerKW is min(rated power, fade-adjusted capacity * C-rate).
func (b *Battery) CRatePowerKW() float64 {
	return math.Min(b.Params.RatedPowerKW, b.UsableCapacityKWh()*b.Params.MaxCRate)
}

// PowerLimitAtKW is the c-rate ceiling derated for ambient temperature tempC.
// It bounds the total of reservations and dispatch a decision may request.
func (b *Battery) PowerLimitAtKW(tempC float64) float64 {
	return b.CRatePowerKW() * TemperatureFactor(tempC, b.Params.OptimalTemperatureC)
}

// ChargePowerLimitKW includes temperature and high-SOC derating.
func (b *Battery) ChargePowerLimitKW() float64 {
	socFactor := 1.0
	if soc := b.SOCFraction(); soc > b.Params.HighSOCDerating {
		socFactor = math.Max(b.Params.DeratingFloor, 1.0-2*(soc-b.Params.HighSOCDerating))
	}
	return b.CRatePowerKW() * b.TemperatureFactor() * socFactor
}

// DischargePowerLimitKW includes temperature and low-SOC derating.
func (b *Battery) DischargePowerLimitKW() float64 {
	socFactor := 1.0
	if soc := b.SOCFraction(); soc < b.Params.LowSOCDerating {
		socFactor = math.Max(b.Params.DeratingFloor, soc/b.Params.LowSOCDerating)
	}
	return b.CRatePowerKW() * b.TemperatureFactor() * socFactor
}

// ChargeResult is the outcome of a charge operation.
type ChargeResult struct {
	Status            ResultStatus
	PowerLimitKW      float64
	PowerKW           float64 // average grid-side power actually drawn
	EnergyStoredKWh   float64
	EnergyGridKWh     float64
	SOCFraction       float64
	TemperatureFactor float64
	Revenue           float64 // signed ledger amount
	Degradation       DegradationResult
}

// DischargeResult is the outcome of a discharge operation.
type DischargeResult struct {
	Status            ResultStatus
	PowerLimitKW      float64
	PowerKW           float64 // average grid-side power actually delivered
	EnergyInternalKWh float64
	EnergyGridKWh     float64
	SOCFraction       float64
	TemperatureFactor float64
	Revenue           float64
	Degradation       DegradationResult
}

// ReservationResult is the outcome of a capacity reservation.
// EnergyAvailableKWh is notional; SOC is unchanged.
type ReservationResult struct {
	Status             ResultStatus
	PowerLimitKW       float64
	PowerKW            float64
	EnergyAvailableKWh float64
	SOCFraction        float64
	TemperatureFactor  float64
	Revenue            float64
	Degradation        DegradationResult
}

// Charge draws energy from the grid. requestedKW nil means "as much as the limit allows";
// a non-nil zero is a valid request for zero power. Requests above physical limits are clamped
// and the clamped amounts are what is returned and recorded.
// If absorptionSale is set the consumed energy is recorded as a sale (the unit is paid to absorb).
func (b *Battery) Charge(price float64, requestedKW *float64, durationHours float64, day int, absorptionSale bool, ambientC float64) ChargeResult {
	b.State.TemperatureC = ambientC
	maxKWh := b.MaxSOCKWh()
	if b.State.SOCKWh >= maxKWh {
		b.State.Status = StatusFull
		return ChargeResult{Status: ResultAlreadyFull, SOCFraction: b.SOCFraction(), TemperatureFactor: b.TemperatureFactor()}
	}
	if durationHours <= 0 {
		return ChargeResult{Status: ResultDegenerate, SOCFraction: b.SOCFraction(), TemperatureFactor: b.TemperatureFactor()}
	}

	limit := b.ChargePowerLimitKW()
	power := clampRequest(requestedKW, limit)

	demanded := power * durationHours
	net := demanded * b.Params.ChargeEfficiency
	headroom := maxKWh - b.State.SOCKWh
	stored := math.Min(net, headroom)
	consumed := stored / b.Params.ChargeEfficiency

	if net >= headroom {
		b.State.SOCKWh = maxKWh
	} else {
		b.State.SOCKWh += stored
	}
	deg := b.UpdateDegradation(stored)

	var tx ledger.Transaction
	if absorptionSale {
		tx = b.Ledger.Sell(price, consumed, day)
	} else {
		tx = b.Ledger.Buy(price, consumed, day)
	}
	b.State.Action = ActionCharge
	b.refreshStatus()

	return ChargeResult{
		Status:            ResultOK,
		PowerLimitKW:      limit,
		PowerKW:           consumed / durationHours,
		EnergyStoredKWh:   stored,
		EnergyGridKWh:     consumed,
		SOCFraction:       b.SOCFraction(),
		TemperatureFactor: b.TemperatureFactor(),
		Revenue:           tx.AmountFloat(),
		Degradation:       deg,
	}
}

// Discharge delivers energy to the grid, draining toward the lower SOC bound.
func (b *Battery) Discharge(price float64, requestedKW *float64, durationHours float64, day int, ambientC float64) DischargeResult {
	b.State.TemperatureC = ambientC
	minKWh := b.MinSOCKWh()
	if b.State.SOCKWh <= minKWh {
		b.State.Status = StatusEmpty
		return DischargeResult{Status: ResultAlreadyEmpty, SOCFraction: b.SOCFraction(), TemperatureFactor: b.TemperatureFactor()}
	}
	if durationHours <= 0 {
		return DischargeResult{Status: ResultDegenerate, SOCFraction: b.SOCFraction(), TemperatureFactor: b.TemperatureFactor()}
	}

	limit := b.DischargePowerLimitKW()
	power := clampRequest(requestedKW, limit)

	demanded := power * durationHours
	available := b.State.SOCKWh - minKWh
	internal := math.Min(demanded/b.Params.DischargeEfficiency, available)
	delivered := internal * b.Params.DischargeEfficiency

	if internal >= available {
		b.State.SOCKWh = minKWh
	} else {
		b.State.SOCKWh -= internal
	}
	deg := b.UpdateDegradation(internal)

	tx := b.Ledger.Sell(price, delivered, day)
	b.State.Action = ActionDischarge
	b.refreshStatus()

	return DischargeResult{
		Status:            ResultOK,
		PowerLimitKW:      limit,
		PowerKW:           delivered / durationHours,
		EnergyInternalKWh: internal,
		EnergyGridKWh:     delivered,
		SOCFraction:       b.SOCFraction(),
		TemperatureFactor: b.TemperatureFactor(),
		Revenue:           tx.AmountFloat(),
		Degradation:       deg,
	}
}

// ReserveCapacity sells standby capacity without moving energy. The notional energy
// (power * duration, capped by stored energy) is billed at price and counted toward degradation.
func (b *Battery) ReserveCapacity(price float64, requestedKW *float64, durationHours float64, day int) ReservationResult {
	if b.State.SOCKWh <= 0 {
		return ReservationResult{Status: ResultNoEnergy, SOCFraction: b.SOCFraction(), TemperatureFactor: b.TemperatureFactor()}
	}
	if durationHours <= 0 {
		return ReservationResult{Status: ResultDegenerate, SOCFraction: b.SOCFraction(), TemperatureFactor: b.TemperatureFactor()}
	}

	limit := b.DischargePowerLimitKW()
	power := clampRequest(requestedKW, limit)
	available := math.Min(power*durationHours, b.State.SOCKWh)

	deg := b.UpdateDegradation(available)
	tx := b.Ledger.Sell(price, available, day)
	b.State.Action = ActionReserve
	b.State.Status = StatusReady

	return ReservationResult{
		Status:             ResultOK,
		PowerLimitKW:       limit,
		PowerKW:            available / durationHours,
		EnergyAvailableKWh: available,
		SOCFraction:        b.SOCFraction(),
		TemperatureFactor:  b.TemperatureFactor(),
		Revenue:            tx.AmountFloat(),
		Degradation:        deg,
	}
}

// SellCapacity books standby revenue for powerKW held over durationHours.
// No energy is moved and degradation is untouched.
func (b *Battery) SellCapacity(price float64, powerKW float64, durationHours float64, day int) float64 {
	if powerKW <= 0 || durationHours <= 0 {
		return 0
	}
	return b.Ledger.Sell(price, powerKW*durationHours, day).AmountFloat()
}

// DegradationResult describes one degradation update.
type DegradationResult struct {
	DoD            float64
	Weight         float64
	WeightedCycles float64
	FadeSteps      int
}

// UpdateDegradation counts energyKWh as a partial cycle weighted by its depth of discharge.
// Capacity fade is a step function: it drops by FadeDecay each time the weighted counter
// crosses CyclesPerFadeStep, and the counter keeps the remainder.
func (b *Battery) UpdateDegradation(energyKWh float64) DegradationResult {
	if energyKWh <= 0 {
		return DegradationResult{}
	}
	dod := energyKWh / b.UsableCapacityKWh()
	weight := 0.2
	switch {
	case dod > 0.8:
		weight = 1.0
	case dod > 0.5:
		weight = 0.5
	}
	weighted := dod * weight
	b.State.WeightedCycles += weighted
	b.State.TotalWeightedCycles += weighted

	res := DegradationResult{DoD: dod, Weight: weight, WeightedCycles: weighted}
	if b.State.WeightedCycles >= b.Params.CyclesPerFadeStep {
		steps := int(b.State.WeightedCycles / b.Params.CyclesPerFadeStep)
		b.State.CapacityFade *= math.Pow(b.Params.FadeDecay, float64(steps))
		b.State.WeightedCycles = math.Mod(b.State.WeightedCycles, b.Params.CyclesPerFadeStep)
		b.State.FadeSteps += steps
		res.FadeSteps = steps
		b.clampSOC()
	}
	return res
}

// AccruedFade expresses weightedCycles as the continuous equivalent of the fade step function.
func (b *Battery) AccruedFade(weightedCycles float64) float64 {
	return 1 - math.Pow(b.Params.FadeDecay, weightedCycles/b.Params.CyclesPerFadeStep)
}

// clampSOC keeps stored energy inside the bounds after the capacity shrank.
func (b *Battery) clampSOC() {
	if hi := b.MaxSOCKWh(); b.State.SOCKWh > hi {
		b.State.SOCKWh = hi
	}
	if lo := b.MinSOCKWh(); b.State.SOCKWh < lo {
		b.State.SOCKWh = lo
	}
}

func (b *Battery) refreshStatus() {
	const eps = 1e-9
	switch {
	case b.State.SOCKWh >= b.MaxSOCKWh()-eps:
		b.State.Status = StatusFull
	case b.State.SOCKWh <= b.MinSOCKWh()+eps:
		b.State.Status = StatusEmpty
	default:
		b.State.Status = StatusProcess
	}
}

// SetIdle marks the battery idle for a step without touching energy.
func (b *Battery) SetIdle() {
	b.State.Action = ActionIdle
	b.refreshStatus()
}

func clampRequest(requestedKW *float64, limit float64) float64 {
	if requestedKW == nil {
		return limit
	}
	p := *requestedKW
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	return math.Min(p, limit)
}

// KW is a convenience for building optional power requests.
func KW(v float64) *float64 {
	return &v
}
