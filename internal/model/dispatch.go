package model

import (
	"errors"
	"fmt"
)

var (
	ErrSimultaneousDispatch = errors.New("charge and discharge both positive")
	ErrOverCommitted        = errors.New("reserved plus dispatched power exceeds limit")
)

// DispatchDecision is the per-step allocation produced by a policy, in kW.
// AFRREnergy* are activated aFRR energy flows; they are dispatched through the
// same charge/discharge path as day-ahead energy.
type DispatchDecision struct {
	ChargeKW    float64
	DischargeKW float64
	FCRKW       float64
	AFRRPosKW   float64
	AFRRNegKW   float64

	AFRREnergyChargeKW    float64
	AFRREnergyDischargeKW float64
}

// ReservedKW is the sum of the three standby reservations.
func (d DispatchDecision) ReservedKW() float64 {
	return d.FCRKW + d.AFRRPosKW + d.AFRRNegKW
}

// TotalKW is reservations plus dispatched power in either direction.
func (d DispatchDecision) TotalKW() float64 {
	return d.ReservedKW() + d.ChargeKW + d.DischargeKW + d.AFRREnergyChargeKW + d.AFRREnergyDischargeKW
}

func (d DispatchDecision) Charging() bool {
	return d.ChargeKW > 0 || d.AFRREnergyChargeKW > 0
}

func (d DispatchDecision) Discharging() bool {
	return d.DischargeKW > 0 || d.AFRREnergyDischargeKW > 0
}

// Validate checks mutual exclusion and that the total stays within limitKW (plus tol).
func (d DispatchDecision) Validate(limitKW, tol float64) error {
	if d.Charging() && d.Discharging() {
		return ErrSimultaneousDispatch
	}
	if total := d.TotalKW(); total > limitKW+tol {
		return fmt.Errorf("%w: %.3f kW > %.3f kW", ErrOverCommitted, total, limitKW)
	}
	return nil
}
