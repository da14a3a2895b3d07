package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
	loadSql "github.com/soverin/bindery/sql"
)

// WorkersDBHandlerFunctions defines the interface for worker-registration
// database operations.
type WorkersDBHandlerFunctions interface {
	ClaimDocument(documentID int64, instanceID string) (bool, error)
	ReleaseDocument(documentID int64, instanceID string) error
	CountWorkers() (int, error)
	HeartbeatWorker(documentID int64, instanceID string) error
	DeleteStaleWorkers(maxAge time.Duration) (int, error)
	SelectWorkers() ([]*model.WorkerRegistration, error)
}

// WorkersDBHandler handles worker-registration database operations
type WorkersDBHandler struct {
	db *helper.Database
}

// NewWorkersDBHandler creates a new workers database handler.
// It initializes the database connection and loads worker-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewWorkersDBHandler(db *helper.Database, force bool) (*WorkersDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	workersDbHandler := &WorkersDBHandler{
		db: db,
	}

	err := loadSql.LoadWorkersSql(workersDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load workers sql", err)
	}

	err = workersDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized WorkersDBHandler")

	return workersDbHandler, nil
}

// CreateTable creates the 'processing_workers' table in the database.
// If the table already exists, it does not create it again.
func (h *WorkersDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_workers();`)
	if err != nil {
		log.Panicf("error initializing processing_workers table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table processing_workers")

	return nil
}

// ClaimDocument attempts to register this instance as the worker for the
// document. A single atomic insert against the primary key, true means
// this instance won the claim.
func (h *WorkersDBHandler) ClaimDocument(documentID int64, instanceID string) (bool, error) {
	var claimed bool
	err := h.db.Instance.QueryRow(
		`SELECT * FROM claim_document($1, $2)`,
		documentID,
		instanceID,
	).Scan(&claimed)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return claimed, nil
}

// ReleaseDocument deletes this instance's registration for the document.
// Idempotent, and never touches another instance's registration.
func (h *WorkersDBHandler) ReleaseDocument(documentID int64, instanceID string) error {
	var released bool
	err := h.db.Instance.QueryRow(
		`SELECT * FROM release_document($1, $2)`,
		documentID,
		instanceID,
	).Scan(&released)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// CountWorkers returns the number of live worker registrations across
// all instances.
func (h *WorkersDBHandler) CountWorkers() (int, error) {
	var count int
	err := h.db.Instance.QueryRow(`SELECT * FROM count_workers()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// HeartbeatWorker refreshes the registration's heartbeat timestamp.
func (h *WorkersDBHandler) HeartbeatWorker(documentID int64, instanceID string) error {
	var updated bool
	err := h.db.Instance.QueryRow(
		`SELECT * FROM heartbeat_worker($1, $2)`,
		documentID,
		instanceID,
	).Scan(&updated)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// DeleteStaleWorkers removes registrations whose heartbeat is older than
// maxAge. Returns the number of registrations removed.
func (h *WorkersDBHandler) DeleteStaleWorkers(maxAge time.Duration) (int, error) {
	var deleted int
	err := h.db.Instance.QueryRow(
		`SELECT * FROM delete_stale_workers($1)`,
		int(maxAge.Seconds()),
	).Scan(&deleted)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return deleted, nil
}

// SelectWorkers lists all live worker registrations.
func (h *WorkersDBHandler) SelectWorkers() ([]*model.WorkerRegistration, error) {
	rows, err := h.db.Instance.Query(
		`SELECT document_id, instance_id, started_at, updated_at FROM processing_workers ORDER BY started_at ASC`,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var workers []*model.WorkerRegistration
	for rows.Next() {
		worker := &model.WorkerRegistration{}
		err := rows.Scan(&worker.DocumentID, &worker.InstanceID, &worker.StartedAt, &worker.UpdatedAt)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		workers = append(workers, worker)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return workers, nil
}
