package coordinator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/helper"
)

// DefaultStaleAfter is how long a registration may miss heartbeats
// before a peer treats its instance as dead.
const DefaultStaleAfter = 5 * time.Minute

// Coordinator mediates all cross-instance worker coordination through
// the shared store. It holds no local state worth sharing, every
// operation is an ordinary transactional write immediately visible to
// every other instance.
type Coordinator struct {
	InstanceID string
	workers    database.WorkersDBHandlerFunctions
	documents  database.DocumentsDBHandlerFunctions
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator for one instance.
func NewCoordinator(
	instanceID string,
	workers database.WorkersDBHandlerFunctions,
	documents database.DocumentsDBHandlerFunctions,
	logger *slog.Logger,
) (*Coordinator, error) {
	if instanceID == "" {
		return nil, helper.NewError("coordinator validation", fmt.Errorf("instance id is empty"))
	}
	if workers == nil || documents == nil {
		return nil, helper.NewError("coordinator validation", fmt.Errorf("database handlers are nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		InstanceID: instanceID,
		workers:    workers,
		documents:  documents,
		staleAfter: DefaultStaleAfter,
		logger:     logger,
	}, nil
}

// Claim attempts to take exclusive ownership of a document. Exactly one
// concurrent caller succeeds, the store's uniqueness constraint is the
// arbiter. A store error is surfaced, the caller must not assume success.
func (c *Coordinator) Claim(documentID int64) (bool, error) {
	claimed, err := c.workers.ClaimDocument(documentID, c.InstanceID)
	if err != nil {
		return false, helper.NewError("claim document", err)
	}

	return claimed, nil
}

// Release drops this instance's registration for the document. Safe to
// call when no registration exists.
func (c *Coordinator) Release(documentID int64) error {
	if err := c.workers.ReleaseDocument(documentID, c.InstanceID); err != nil {
		return helper.NewError("release document", err)
	}

	return nil
}

// Heartbeat refreshes the liveness timestamp of an in-flight claim.
func (c *Coordinator) Heartbeat(documentID int64) error {
	if err := c.workers.HeartbeatWorker(documentID, c.InstanceID); err != nil {
		return helper.NewError("heartbeat worker", err)
	}

	return nil
}

// LiveWorkerCount returns the number of live registrations across all
// instances.
func (c *Coordinator) LiveWorkerCount() (int, error) {
	count, err := c.workers.CountWorkers()
	if err != nil {
		return 0, helper.NewError("count workers", err)
	}

	return count, nil
}

// ReconcileStuck recovers from crashed workers: registrations with stale
// heartbeats are dropped, then documents left in 'processing' with no
// live registration are reset to 'pending'. Returns the number of
// documents reset. A crash leaves no other signal, so this runs before
// every run and periodically during one. Idempotent and safe to run
// concurrently from multiple instances.
func (c *Coordinator) ReconcileStuck() (int, error) {
	stale, err := c.workers.DeleteStaleWorkers(c.staleAfter)
	if err != nil {
		return 0, helper.NewError("delete stale workers", err)
	}
	if stale > 0 {
		c.logger.Warn("Removed stale worker registrations", slog.Int("count", stale))
	}

	reset, err := c.documents.ResetStuckDocuments()
	if err != nil {
		return 0, helper.NewError("reset stuck documents", err)
	}
	if reset > 0 {
		c.logger.Warn("Reset stuck documents to pending", slog.Int("count", reset))
	}

	return reset, nil
}
