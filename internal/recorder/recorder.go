package recorder

import (
	"time"

	"EpochKeeper/internal/model"
)

// Attempt is one settlement attempt worth keeping: anything that moved money,
// halted a pool or failed.
type Attempt struct {
	ID         string
	Timestamp  time.Time
	PoolID     string
	EpochID    uint64
	Status     model.EpochStatus
	Action     model.Action
	IsFeasible bool
	Fallback   model.Fallback
	Orders     model.OrderSnapshot
	Executed   model.OrderSnapshot
	TxHash     string
	Error      string
}

// HaltEvent records a pool being halted or resumed.
type HaltEvent struct {
	PoolID  string
	EpochID uint64
	Reason  string
	Resumed bool
}

// Recorder persists settlement history for audit.
type Recorder interface {
	RecordAttempt(a *Attempt) error
	RecordHalt(evt *HaltEvent) error
	RecentAttempts(poolID string, limit int) ([]Attempt, error)
	Close() error
}
