package event

import (
	"time"

	"ladder_go/internal/domain"
)

// BalanceUpdate is published once per detected ledger change.
type BalanceUpdate struct {
	Snapshot   domain.BalanceSnapshot
	ObservedAt time.Time
}

// GetSeq returns the ledger sequence the update was observed at.
func (e BalanceUpdate) GetSeq() int64 {
	return e.Snapshot.LedgerSeq
}
