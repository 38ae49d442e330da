package model

import "github.com/holiman/uint256"

// Pool is one registry entry the keeper settles.
type Pool struct {
	ID   string
	Name string
	// DustThreshold is the aggregate pending volume, in base units, below which
	// a closable epoch is left open.
	DustThreshold uint256.Int
	Weights       PriorityWeights
	Disabled      bool
}

// Label returns the display name, falling back to the id.
func (p Pool) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Action is what one settlement attempt did.
type Action string

const (
	ActionWait              Action = "wait"
	ActionSkipDust          Action = "skip_dust"
	ActionExecuted          Action = "executed"
	ActionSubmitted         Action = "submitted"
	ActionSubmittedFallback Action = "submitted_fallback"
	ActionHalted            Action = "halted"
)

// MovesMoney reports whether the action wrote financial state to the ledger.
func (a Action) MovesMoney() bool {
	return a == ActionExecuted || a == ActionSubmitted || a == ActionSubmittedFallback
}

// Settlement describes a single attempt to advance a pool's epoch.
type Settlement struct {
	PoolID  string
	EpochID uint64
	Status  EpochStatus
	Action  Action
	Orders  OrderSnapshot
	Result  AllocationResult
	Tx      TransactionOutcome
	Note    string
}
