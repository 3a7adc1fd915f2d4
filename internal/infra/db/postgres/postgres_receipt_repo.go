package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/repository"
)

var _ repository.ReceiptRepository = (*receiptRepo)(nil)

type receiptRepo struct{ pool *pgxpool.Pool }

func NewReceiptRepo(pool *pgxpool.Pool) *receiptRepo {
	return &receiptRepo{pool: pool}
}

const receiptColumns = `id, organization_id, original_file_name, file_path, content_type, status, COALESCE(ocr_error, ''), created_at, updated_at`

func scanReceipt(row pgx.Row) (*model.Receipt, error) {
	r := &model.Receipt{}
	var status string
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.OriginalFileName, &r.FilePath, &r.ContentType, &status, &r.OCRError, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.ReceiptStatus(status)
	return r, nil
}

func (r *receiptRepo) Create(ctx context.Context, tx repository.Tx, rc *model.Receipt) error {
	const q = `
INSERT INTO receipt_scans (id, organization_id, original_file_name, file_path, content_type, status, ocr_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)
ON CONFLICT (id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, rc.ID, rc.OrganizationID, rc.OriginalFileName, rc.FilePath, rc.ContentType, string(rc.Status), rc.OCRError, rc.CreatedAt, rc.UpdatedAt)
	if err != nil {
		return dbErr("create receipt", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *receiptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Receipt, error) {
	q := `SELECT ` + receiptColumns + ` FROM receipt_scans WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	rc, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReceiptNotFound
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return rc, nil
}

func (r *receiptRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.Receipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + receiptColumns + ` FROM receipt_scans WHERE id = ANY($1);`
	rows, err := queryRows(ctx, r.pool, tx, q, ids)
	if err != nil {
		return nil, dbErr("find receipts", err)
	}
	defer rows.Close()

	byID := make(map[string]*model.Receipt, len(ids))
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		byID[rc.ID] = rc
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("find receipts", err)
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

func (r *receiptRepo) UpdateStatus(ctx context.Context, tx repository.Tx, ids []string, status model.ReceiptStatus) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE receipt_scans SET status=$2, updated_at=NOW() WHERE id = ANY($1);`
	if _, err := execSQL(ctx, r.pool, tx, q, ids, string(status)); err != nil {
		return dbErr("update receipt status", err)
	}
	return nil
}

// SaveOCRResult runs in its own transaction unless the caller passes one.
func (r *receiptRepo) SaveOCRResult(ctx context.Context, tx repository.Tx, res *model.OCRExtraction) error {
	if tx != nil {
		return r.saveOCRResult(ctx, tx, res)
	}
	return NewTxManager(r.pool).WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return r.saveOCRResult(ctx, tx, res)
	})
}

func (r *receiptRepo) saveOCRResult(ctx context.Context, tx repository.Tx, res *model.OCRExtraction) error {
	const upd = `UPDATE receipt_scans SET status=$2, ocr_error=NULLIF($3,''), updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, upd, res.ReceiptID, string(res.ReceiptStatus()), res.ErrorMessage)
	if err != nil {
		return dbErr("update receipt status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReceiptNotFound
	}

	const ins = `
INSERT INTO ocr_results (
  receipt_id, job_id, engine_used, raw_text, vendor_name, vendor_registration_number,
  receipt_date, total_amount, overall_confidence, processing_time_ms, requires_manual_review, error_message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,NULLIF($12,''),$13);`
	created := res.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := execSQL(ctx, r.pool, tx, ins,
		res.ReceiptID, res.JobID, res.EngineUsed, res.RawText, res.MerchantName, res.BusinessNumber,
		res.ReceiptDate, res.TotalAmount, res.Confidence, res.ProcessingTimeMs, res.RequiresManualReview, res.ErrorMessage, created,
	); err != nil {
		return dbErr("insert ocr result", err)
	}
	return nil
}

func (r *receiptRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, status model.ReceiptStatus, reason string) error {
	const q = `UPDATE receipt_scans SET status=$2, ocr_error=NULLIF($3,''), updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), reason)
	if err != nil {
		return dbErr("mark receipt", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReceiptNotFound
	}
	return nil
}

func (r *receiptRepo) LatestOCRResult(ctx context.Context, tx repository.Tx, receiptID string) (*model.OCRExtraction, error) {
	const q = `
SELECT receipt_id, job_id, engine_used, raw_text, vendor_name, vendor_registration_number,
       COALESCE(receipt_date, ''), total_amount, overall_confidence, processing_time_ms, requires_manual_review,
       COALESCE(error_message, ''), created_at
FROM ocr_results WHERE receipt_id=$1
ORDER BY created_at DESC, id DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, receiptID)
	if err != nil {
		return nil, err
	}
	res := &model.OCRExtraction{}
	err = row.Scan(&res.ReceiptID, &res.JobID, &res.EngineUsed, &res.RawText, &res.MerchantName, &res.BusinessNumber,
		&res.ReceiptDate, &res.TotalAmount, &res.Confidence, &res.ProcessingTimeMs, &res.RequiresManualReview, &res.ErrorMessage, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return res, nil
}

func (r *receiptRepo) ListStaleProcessing(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Receipt, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + receiptColumns + ` FROM receipt_scans WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, string(model.ReceiptStatusProcessing), olderThan, limit)
	if err != nil {
		return nil, dbErr("list stale receipts", err)
	}
	defer rows.Close()

	var out []*model.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list stale receipts", err)
	}
	return out, nil
}
