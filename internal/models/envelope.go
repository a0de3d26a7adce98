package models

import (
	"time"
)

// Envelope wraps a Snapshot with metadata for the downstream mirror
type Envelope struct {
	// Stored reading
	Snapshot Snapshot `json:"snapshot"`

	// Internal processing metadata
	EnqueuedAt   time.Time `json:"enqueued_at"`
	Node         string    `json:"node"`
	Sequence     uint64    `json:"sequence"`
	BatchID      string    `json:"batch_id,omitempty"`
	RetryCount   int       `json:"retry_count"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping a snapshot
func NewEnvelope(snap Snapshot, node string, seq uint64) *Envelope {
	return &Envelope{
		Snapshot:     snap,
		EnqueuedAt:   time.Now().UTC(),
		Node:         node,
		Sequence:     seq,
		RetryCount:   0,
		PartitionKey: node, // one partition per collector keeps order
	}
}

// WithBatch sets batch metadata on the envelope
func (e *Envelope) WithBatch(batchID string) *Envelope {
	e.BatchID = batchID
	return e
}
