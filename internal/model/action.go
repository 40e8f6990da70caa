package model

// Action is the operating mode of the battery for a timestep.
// Keep these values stable; they are intended for exported operation rows.
type Action string

const (
	ActionIdle      Action = "idle"
	ActionCharge    Action = "charge"
	ActionDischarge Action = "discharge"
	ActionReserve   Action = "reserve"
)

// Status is the coarse fill state of the battery.
type Status string

const (
	StatusEmpty   Status = "empty"
	StatusProcess Status = "process"
	StatusFull    Status = "full"
	StatusReady   Status = "ready"
)

// ResultStatus tags the outcome of a single battery operation.
type ResultStatus string

const (
	ResultOK ResultStatus = "ok"
	// ResultAlreadyFull means a charge found the battery at its upper SOC bound.
	ResultAlreadyFull ResultStatus = "already_full"
	// ResultAlreadyEmpty means a discharge found the battery at its lower SOC bound.
	ResultAlreadyEmpty ResultStatus = "already_empty"
	// ResultNoEnergy means a reservation found no stored energy.
	ResultNoEnergy ResultStatus = "no_energy"
	// ResultDegenerate means the operation had a non-positive duration.
	ResultDegenerate ResultStatus = "degenerate"
)
