package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/repository"
)

var _ repository.ReceiptRepository = (*ReceiptRepo)(nil)

// ReceiptRepo keeps receipts and OCR results in a single SQLite file.
// Timestamps are stored as UTC unix nanoseconds so range scans compare numerically.
type ReceiptRepo struct {
	db *sql.DB
}

// NewReceiptRepo opens (or creates) the database at path and runs migrations.
// ":memory:" gives a throwaway database.
func NewReceiptRepo(path string) (*ReceiptRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err = db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	r := &ReceiptRepo{db: db}
	if err = r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *ReceiptRepo) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS receipt_scans (
			id                 TEXT PRIMARY KEY,
			organization_id    TEXT NOT NULL DEFAULT '',
			original_file_name TEXT NOT NULL,
			file_path          TEXT NOT NULL,
			content_type       TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			ocr_error          TEXT,
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_receipt_scans_status_updated ON receipt_scans(status, updated_at);

		CREATE TABLE IF NOT EXISTS ocr_results (
			id                         INTEGER PRIMARY KEY AUTOINCREMENT,
			receipt_id                 TEXT NOT NULL REFERENCES receipt_scans(id),
			job_id                     TEXT NOT NULL,
			engine_used                TEXT NOT NULL DEFAULT '',
			raw_text                   TEXT NOT NULL DEFAULT '',
			vendor_name                TEXT NOT NULL DEFAULT '',
			vendor_registration_number TEXT NOT NULL DEFAULT '',
			receipt_date               TEXT,
			total_amount               REAL,
			overall_confidence         REAL NOT NULL DEFAULT 0,
			processing_time_ms         INTEGER NOT NULL DEFAULT 0,
			requires_manual_review     INTEGER NOT NULL DEFAULT 0,
			error_message              TEXT,
			created_at                 INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ocr_results_receipt ON ocr_results(receipt_id, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (r *ReceiptRepo) Close() error {
	return r.db.Close()
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *ReceiptRepo) exec(tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case *sql.Tx:
		return v, nil
	case nil:
		return r.db, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

const receiptColumns = `id, organization_id, original_file_name, file_path, content_type, status, COALESCE(ocr_error, ''), created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(row scanner) (*model.Receipt, error) {
	rc := &model.Receipt{}
	var status string
	var created, updated int64
	if err := row.Scan(&rc.ID, &rc.OrganizationID, &rc.OriginalFileName, &rc.FilePath, &rc.ContentType, &status, &rc.OCRError, &created, &updated); err != nil {
		return nil, err
	}
	rc.Status = model.ReceiptStatus(status)
	rc.CreatedAt = fromNanos(created)
	rc.UpdatedAt = fromNanos(updated)
	return rc, nil
}

func (r *ReceiptRepo) Create(ctx context.Context, tx repository.Tx, rc *model.Receipt) error {
	ex, err := r.exec(tx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO receipt_scans
			(id, organization_id, original_file_name, file_path, content_type, status, ocr_error, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)
	`, rc.ID, rc.OrganizationID, rc.OriginalFileName, rc.FilePath, rc.ContentType, string(rc.Status), rc.OCRError,
		toNanos(rc.CreatedAt), toNanos(rc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create receipt %s: %w", rc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *ReceiptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Receipt, error) {
	ex, err := r.exec(tx)
	if err != nil {
		return nil, err
	}
	row := ex.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipt_scans WHERE id = ?`, id)
	rc, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", id, err)
	}
	return rc, nil
}

func (r *ReceiptRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.Receipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ex, err := r.exec(tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + receiptColumns + ` FROM receipt_scans WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := ex.QueryContext(ctx, q, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("find receipts: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*model.Receipt, len(ids))
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		byID[rc.ID] = rc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}

	out := make([]*model.Receipt, 0, len(byID))
	for _, id := range ids {
		if rc, ok := byID[id]; ok {
			out = append(out, rc)
			delete(byID, id)
		}
	}
	return out, nil
}

func (r *ReceiptRepo) UpdateStatus(ctx context.Context, tx repository.Tx, ids []string, status model.ReceiptStatus) error {
	if len(ids) == 0 {
		return nil
	}
	ex, err := r.exec(tx)
	if err != nil {
		return err
	}
	args := append([]interface{}{string(status), toNanos(time.Now())}, stringArgs(ids)...)
	_, err = ex.ExecContext(ctx, `UPDATE receipt_scans SET status = ?, updated_at = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	return nil
}

// SaveOCRResult runs in its own transaction unless the caller passes a *sql.Tx.
func (r *ReceiptRepo) SaveOCRResult(ctx context.Context, tx repository.Tx, res *model.OCRExtraction) error {
	if tx != nil {
		ex, err := r.exec(tx)
		if err != nil {
			return err
		}
		return saveOCRResult(ctx, ex, res)
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := saveOCRResult(ctx, sqlTx, res); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveOCRResult(ctx context.Context, ex executor, res *model.OCRExtraction) error {
	now := time.Now()
	upd, err := ex.ExecContext(ctx, `UPDATE receipt_scans SET status = ?, ocr_error = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		string(res.ReceiptStatus()), res.ErrorMessage, toNanos(now), res.ReceiptID)
	if err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	if n, _ := upd.RowsAffected(); n == 0 {
		return domain.ErrReceiptNotFound
	}

	created := res.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO ocr_results
			(receipt_id, job_id, engine_used, raw_text, vendor_name, vendor_registration_number,
			 receipt_date, total_amount, overall_confidence, processing_time_ms, requires_manual_review,
			 error_message, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, res.ReceiptID, res.JobID, res.EngineUsed, res.RawText, res.MerchantName, res.BusinessNumber,
		res.ReceiptDate, res.TotalAmount, res.Confidence, res.ProcessingTimeMs, res.RequiresManualReview,
		res.ErrorMessage, toNanos(created))
	if err != nil {
		return fmt.Errorf("insert ocr result: %w", err)
	}
	return nil
}

func (r *ReceiptRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, status model.ReceiptStatus, reason string) error {
	ex, err := r.exec(tx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `UPDATE receipt_scans SET status = ?, ocr_error = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		string(status), reason, toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark receipt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrReceiptNotFound
	}
	return nil
}

func (r *ReceiptRepo) LatestOCRResult(ctx context.Context, tx repository.Tx, receiptID string) (*model.OCRExtraction, error) {
	ex, err := r.exec(tx)
	if err != nil {
		return nil, err
	}
	row := ex.QueryRowContext(ctx, `
		SELECT receipt_id, job_id, engine_used, raw_text, vendor_name, vendor_registration_number,
		       COALESCE(receipt_date, ''), total_amount, overall_confidence, processing_time_ms,
		       requires_manual_review, COALESCE(error_message, ''), created_at
		FROM ocr_results WHERE receipt_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, receiptID)

	res := &model.OCRExtraction{}
	var total sql.NullFloat64
	var created int64
	err = row.Scan(&res.ReceiptID, &res.JobID, &res.EngineUsed, &res.RawText, &res.MerchantName, &res.BusinessNumber,
		&res.ReceiptDate, &total, &res.Confidence, &res.ProcessingTimeMs, &res.RequiresManualReview, &res.ErrorMessage, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ocr result for %s: %w", receiptID, err)
	}
	if total.Valid {
		v := total.Float64
		res.TotalAmount = &v
	}
	res.CreatedAt = fromNanos(created)
	return res, nil
}

func (r *ReceiptRepo) ListStaleProcessing(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Receipt, error) {
	if limit <= 0 {
		limit = 100
	}
	ex, err := r.exec(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM receipt_scans
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, string(model.ReceiptStatusProcessing), toNanos(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale receipts: %w", err)
	}
	defer rows.Close()

	var out []*model.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
