// Package ledger is the boundary to the system of record that owns pool state,
// pending orders and the epoch protocol. Everything crossing it is an integer
// in WAD (currency) or RAY (ratio) units.
package ledger

import (
	"context"
	"errors"

	"EpochKeeper/internal/model"
)

var (
	// ErrPoolNotFound is returned when the ledger does not know the pool id.
	ErrPoolNotFound = errors.New("ledger: pool not found")
	// ErrTransactionFailed is returned when the ledger rejected a submitted instruction.
	ErrTransactionFailed = errors.New("ledger: transaction failed")
	// ErrNoCommittedSolution is returned when no solution is pending execution.
	ErrNoCommittedSolution = errors.New("ledger: no committed solution")
	// ErrMissingField is returned when a pool snapshot omits a required value.
	ErrMissingField = errors.New("ledger: missing field")
)

// Ledger is the gateway consumed by the settlement state machine. Every call is
// expected to return within the implementation's own timeout.
type Ledger interface {
	ReadPoolState(ctx context.Context, poolID string) (model.PoolState, error)
	ReadOrderSnapshot(ctx context.Context, poolID string) (model.OrderSnapshot, error)
	ReadEpochRecord(ctx context.Context, poolID string) (model.EpochRecord, error)
	// ReadCommittedSolution returns the executed amounts of the solution
	// submitted for the current epoch.
	ReadCommittedSolution(ctx context.Context, poolID string) (model.OrderSnapshot, error)

	SubmitCombinedCloseAndExecute(ctx context.Context, poolID string, result model.AllocationResult) (model.TransactionOutcome, error)
	SubmitSolution(ctx context.Context, poolID string, result model.AllocationResult) (model.TransactionOutcome, error)
	SubmitExecute(ctx context.Context, poolID string) (model.TransactionOutcome, error)
}
