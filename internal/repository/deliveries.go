package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveryRepository persists delivery_records. Status ordering decisions
// live in the webhook ingestor; this layer only applies them.
type DeliveryRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, d model.DeliveryRecord) error
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error)
	// UpdateStatus sets the new status and stamps its timestamp column.
	UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, at time.Time, errCode, errMsg string) error
	ListByTenant(ctx context.Context, tenantID int64, status model.DeliveryStatus, phone string, limit, offset int) ([]model.DeliveryRecord, error)
}

type DeliveryRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepositoryImpl {
	return &DeliveryRepositoryImpl{db: db}
}

var _ DeliveryRepository = (*DeliveryRepositoryImpl)(nil)

func (r *DeliveryRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *DeliveryRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, d model.DeliveryRecord) error {
	const q = `
		INSERT INTO delivery_records
		    (id, message_id, tenant_id, channel, direction, provider_message_id,
		     status, sent_at, failed_at, error_code, error_message, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			d.ID, d.MessageID, d.TenantID, d.Channel.String(), d.Direction.String(),
			d.ProviderMessageID, d.Status.String(), d.SentAt, d.FailedAt,
			d.ErrorCode, d.ErrorMessage,
		)
		return err
	})
}

func (r *DeliveryRepositoryImpl) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error) {
	var d model.DeliveryRecord
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM delivery_records WHERE provider_message_id = ? LIMIT 1
	`, providerMessageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeliveryRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, at time.Time, errCode, errMsg string) error {
	var col string
	switch status {
	case model.DeliveryDelivered:
		col = "delivered_at"
	case model.DeliveryRead:
		col = "read_at"
	case model.DeliveryFailed:
		col = "failed_at"
	default:
		col = "sent_at"
	}
	q := `
		UPDATE delivery_records
		   SET status = ?, ` + col + ` = ?, error_code = NULLIF(?, ''), error_message = NULLIF(?, ''), updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, status.String(), at, errCode, errMsg, id)
	return err
}

func (r *DeliveryRepositoryImpl) ListByTenant(ctx context.Context, tenantID int64, status model.DeliveryStatus, phone string, limit, offset int) ([]model.DeliveryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT d.* FROM delivery_records d WHERE d.tenant_id = ?`
	args := []any{tenantID}

	if status != "" {
		q += " AND d.status = ?"
		args = append(args, status.String())
	}
	if phone != "" {
		q += " AND d.message_id IN (SELECT id FROM queued_messages WHERE phone = ?)"
		args = append(args, phone)
	}

	q += " ORDER BY d.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryRecord
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
