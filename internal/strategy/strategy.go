package strategy

import (
	"bess-dispatch/internal/market"
	"bess-dispatch/internal/model"
)

// Context is everything a strategy may look at when deciding one step.
type Context struct {
	Index     int
	Step      market.Step
	StepHours float64
	Battery   *model.Battery
	// CyclesToday is the charge plus discharge energy already moved on
	// Step.Day, in multiples of nominal capacity.
	CyclesToday float64
}

type Strategy interface {
	Name() string
	Decide(ctx Context) model.DispatchDecision
}
