package app

import "csync-go/internal/csync"

// SyncOperation tracks one CLI invocation through the pipeline's state
// machine. Operations are created in memory with ID=0; only mutating
// commands journal them (giving them an auto-increment ID from the
// container database).
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	State      csync.State
}

// NewSyncOperation creates a new in-memory operation record.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		State:      csync.StateScanning,
	}
}

// Persisted returns true if this operation has been journaled.
func (op *SyncOperation) Persisted() bool {
	return op.ID != 0
}
