package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
	loadSql "github.com/soverin/bindery/sql"
)

// ErrDuplicateContent is returned when a document with the same
// owner-scoped content hash already exists.
var ErrDuplicateContent = errors.New("document with identical content hash already exists")

// DocumentsDBHandlerFunctions defines the interface for Documents database operations.
type DocumentsDBHandlerFunctions interface {
	InsertDocument(doc *model.Document) error
	SelectDocument(rid uuid.UUID) (*model.Document, error)
	SelectDocumentByHash(ownerID, contentHash string) (*model.Document, error)
	CountDocumentsByHash(ownerID, contentHash string, excludeID int64) (int, error)
	SelectPendingDocuments(limit int) ([]*model.Document, error)
	UpdateDocumentStatus(id int64, expected, status model.ProcessingStatus, stage, errMsg string) (bool, error)
	UpdateDocumentResult(doc *model.Document) error
	ResetStuckDocuments() (int, error)
	ResetDocument(rid uuid.UUID) error
	DeleteDocument(rid uuid.UUID) error
}

// DocumentsDBHandler handles document-related database operations
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It initializes the database connection and loads document-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := loadSql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'documents' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes and triggers.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_documents();`)
	if err != nil {
		log.Panicf("error initializing documents table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table documents")

	return nil
}

// InsertDocument inserts a new pending document. Returns
// ErrDuplicateContent when the owner scope already contains a document
// with the same content hash.
func (h *DocumentsDBHandler) InsertDocument(doc *model.Document) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_document($1, $2, $3, $4, $5, $6)`,
		doc.Title,
		doc.Source,
		doc.OwnerID,
		doc.NormalizedText,
		doc.ContentHash,
		doc.Metadata,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateContent
	}
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectDocument retrieves a document by RID
func (h *DocumentsDBHandler) SelectDocument(rid uuid.UUID) (*model.Document, error) {
	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_document($1)`,
		rid,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectDocumentByHash retrieves a document by its owner-scoped content hash
func (h *DocumentsDBHandler) SelectDocumentByHash(ownerID, contentHash string) (*model.Document, error) {
	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_document_by_hash($1, $2)`,
		ownerID,
		contentHash,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// CountDocumentsByHash counts other documents in the same owner scope
// carrying the given content hash. Used for the duplicate short-circuit
// before a claim.
func (h *DocumentsDBHandler) CountDocumentsByHash(ownerID, contentHash string, excludeID int64) (int, error) {
	var count int
	err := h.db.Instance.QueryRow(
		`SELECT * FROM count_documents_by_hash($1, $2, $3)`,
		ownerID,
		contentHash,
		excludeID,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// SelectPendingDocuments retrieves up to limit pending documents in
// best-effort FIFO order.
func (h *DocumentsDBHandler) SelectPendingDocuments(limit int) ([]*model.Document, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_pending_documents($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc := &model.Document{}
		if err := scanDocument(rows, doc); err != nil {
			return nil, helper.NewError("scan", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return docs, nil
}

// UpdateDocumentStatus performs a guarded lifecycle transition. The
// update only happens when the document currently has the expected
// status, the returned bool reports whether the transition took place.
func (h *DocumentsDBHandler) UpdateDocumentStatus(id int64, expected, status model.ProcessingStatus, stage, errMsg string) (bool, error) {
	var updated bool
	err := h.db.Instance.QueryRow(
		`SELECT * FROM update_document_status($1, $2, $3, $4, $5)`,
		id,
		string(expected),
		string(status),
		stage,
		errMsg,
	).Scan(&updated)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return updated, nil
}

// UpdateDocumentResult persists the derived artifacts of extraction:
// normalized text, structured metadata, the review flag and the hash
// recomputed over the normalized text.
func (h *DocumentsDBHandler) UpdateDocumentResult(doc *model.Document) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM update_document_result($1, $2, $3, $4, $5)`,
		doc.ID,
		doc.NormalizedText,
		doc.Metadata,
		doc.NeedsReview,
		doc.ContentHash,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// ResetStuckDocuments resets documents stuck in 'processing' without a
// live worker registration back to 'pending' and returns the count.
// Safe to run concurrently from multiple instances.
func (h *DocumentsDBHandler) ResetStuckDocuments() (int, error) {
	var count int
	err := h.db.Instance.QueryRow(`SELECT * FROM reset_stuck_documents()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// ResetDocument resets a single document to 'pending' (operator action).
func (h *DocumentsDBHandler) ResetDocument(rid uuid.UUID) error {
	var updated bool
	err := h.db.Instance.QueryRow(
		`SELECT * FROM reset_document($1)`,
		rid,
	).Scan(&updated)
	if err != nil {
		return helper.NewError("scan", err)
	}
	if !updated {
		return helper.NewError("reset document", fmt.Errorf("document %s not found", rid))
	}

	return nil
}

// DeleteDocument deletes a document and, via cascade, all its chunks.
func (h *DocumentsDBHandler) DeleteDocument(rid uuid.UUID) error {
	var deleted bool
	err := h.db.Instance.QueryRow(
		`SELECT * FROM delete_document($1)`,
		rid,
	).Scan(&deleted)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner, doc *model.Document) error {
	return row.Scan(
		&doc.ID,
		&doc.RID,
		&doc.Title,
		&doc.Source,
		&doc.OwnerID,
		&doc.NormalizedText,
		&doc.ContentHash,
		&doc.Metadata,
		&doc.Status,
		&doc.Stage,
		&doc.ProcessingError,
		&doc.NeedsReview,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
}
