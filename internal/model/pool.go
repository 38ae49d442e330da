package model

import (
	"fmt"

	"github.com/holiman/uint256"
)

// PoolState is the per-epoch snapshot of a pool read from the ledger.
// Currency fields are WAD-scaled base units, ratios are RAY-scaled.
type PoolState struct {
	NetAssetValue    uint256.Int
	Reserve          uint256.Int
	SeniorAssetValue uint256.Int
	MinJuniorRatio   uint256.Int
	MaxJuniorRatio   uint256.Int
	MaxReserve       uint256.Int
}

// EpochStatus is the ledger-owned phase of the current epoch.
type EpochStatus string

const (
	EpochOpen                 EpochStatus = "open"
	EpochCanBeClosed          EpochStatus = "can_be_closed"
	EpochInSubmission         EpochStatus = "in_submission"
	EpochChallengePeriod      EpochStatus = "challenge_period"
	EpochChallengePeriodEnded EpochStatus = "challenge_period_ended"
)

// ParseEpochStatus validates a status string received from the ledger.
func ParseEpochStatus(s string) (EpochStatus, error) {
	switch st := EpochStatus(s); st {
	case EpochOpen, EpochCanBeClosed, EpochInSubmission, EpochChallengePeriod, EpochChallengePeriodEnded:
		return st, nil
	}
	return "", fmt.Errorf("unknown epoch status %q", s)
}

// EpochRecord is the ledger's view of the current epoch.
type EpochRecord struct {
	ID     uint64
	Status EpochStatus
	// ChallengeDeadline is a block or unix-time marker, set only in ChallengePeriod.
	ChallengeDeadline uint64
}

// TransactionOutcome is what the ledger reports for a submitted instruction.
type TransactionOutcome struct {
	TxHash  string
	Success bool
	Message string
}
