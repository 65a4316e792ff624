package models

import "time"

// MutationKind names a ledger write.
type MutationKind string

const (
	MutationAppend MutationKind = "APPEND"
	MutationAmend  MutationKind = "AMEND"
	MutationRemove MutationKind = "REMOVE"
)

// LedgerMutation is one write to replay against the durable store. For AMEND the
// transaction carries its new state; for REMOVE it is the removed record.
type LedgerMutation struct {
	Kind        MutationKind `json:"kind"`
	Transaction Transaction  `json:"transaction"`
}

// LedgerBatch is the unit committed atomically in memory and replayed as one
// database transaction.
type LedgerBatch struct {
	ID        string           `json:"id"`
	Mutations []LedgerMutation `json:"mutations"`
	CreatedAt time.Time        `json:"created_at"`
}

// Empty reports whether the batch carries no writes.
func (b LedgerBatch) Empty() bool {
	return len(b.Mutations) == 0
}
