package model

import "time"

// ProcessingLock is the singleton row (id=1) representing whether any
// ingestion run is currently active, plus the live adaptive-parallelism
// ceiling every instance consults before launching a new task.
type ProcessingLock struct {
	IsProcessing   bool      `json:"is_processing"`
	MaxParallel    int       `json:"max_parallel"`
	CurrentWorkers int       `json:"current_workers"`
	ThrottleDelay  float64   `json:"throttle_delay"` // seconds
	State          Metadata  `json:"state,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WorkerRegistration is the ephemeral row recording that one instance
// holds the claim on one document. For a given document at most one live
// registration exists, enforced by a uniqueness constraint.
type WorkerRegistration struct {
	InstanceID string    `json:"instance_id"`
	DocumentID int64     `json:"document_id"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
