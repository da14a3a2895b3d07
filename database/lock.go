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

// LockDBHandlerFunctions defines the interface for processing-lock
// database operations.
type LockDBHandlerFunctions interface {
	SelectLock() (*model.ProcessingLock, error)
	UpdateLock(maxParallel int, throttleDelay time.Duration, currentWorkers int) error
	SetProcessing(isProcessing bool) error
	UpdateState(state *model.RunState) error
}

// LockDBHandler handles the singleton processing-lock row.
type LockDBHandler struct {
	db *helper.Database
}

// NewLockDBHandler creates a new lock database handler.
// It initializes the database connection and loads lock-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewLockDBHandler(db *helper.Database, force bool) (*LockDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	lockDbHandler := &LockDBHandler{
		db: db,
	}

	err := loadSql.LoadLockSql(lockDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load lock sql", err)
	}

	err = lockDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized LockDBHandler")

	return lockDbHandler, nil
}

// CreateTable creates the 'processing_lock' table and seeds the
// singleton row. If the table already exists, it does not create it again.
func (h *LockDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_lock();`)
	if err != nil {
		log.Panicf("error initializing processing_lock table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table processing_lock")

	return nil
}

// SelectLock reads the singleton lock row. Every scheduling decision
// re-reads this row, peers act on the shared ceiling, not a local copy.
func (h *LockDBHandler) SelectLock() (*model.ProcessingLock, error) {
	lock := &model.ProcessingLock{}
	var id int
	err := h.db.Instance.QueryRow(`SELECT * FROM select_lock()`).Scan(
		&id,
		&lock.IsProcessing,
		&lock.MaxParallel,
		&lock.CurrentWorkers,
		&lock.ThrottleDelay,
		&lock.State,
		&lock.UpdatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return lock, nil
}

// UpdateLock persists the adaptive controller's ceiling, throttle and
// worker count in one atomic statement.
func (h *LockDBHandler) UpdateLock(maxParallel int, throttleDelay time.Duration, currentWorkers int) error {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM update_lock($1, $2, $3)`,
		maxParallel,
		throttleDelay.Seconds(),
		currentWorkers,
	)
	if err != nil {
		return helper.NewError("query", err)
	}
	defer rows.Close()

	return rows.Err()
}

// SetProcessing marks whether an ingestion run is currently active.
func (h *LockDBHandler) SetProcessing(isProcessing bool) error {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM set_processing($1)`,
		isProcessing,
	)
	if err != nil {
		return helper.NewError("query", err)
	}
	defer rows.Close()

	return rows.Err()
}

// UpdateState persists the live run state for observers.
func (h *LockDBHandler) UpdateState(state *model.RunState) error {
	payload, err := state.Marshal()
	if err != nil {
		return helper.NewError("marshal state", err)
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM update_lock_state($1)`,
		payload,
	)
	if err != nil {
		return helper.NewError("query", err)
	}
	defer rows.Close()

	return rows.Err()
}
