package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// QueueRepository persists queued_messages. All mutation of queue rows goes
// through here; status guards in the SQL keep terminal rows immutable.
type QueueRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, m model.QueuedMessage) error
	GetByID(ctx context.Context, id string) (*model.QueuedMessage, error)
	// SelectDue returns up to limit messages ready to send: pending, or
	// processing rows untouched since stuckBefore (crash recovery), with
	// scheduled_for <= now, ordered by priority desc then scheduled_for asc.
	SelectDue(ctx context.Context, channel model.Channel, limit int, stuckBefore, now time.Time) ([]model.QueuedMessage, error)
	// MarkProcessing claims a row; returns false when the row was cancelled
	// or claimed by another cycle in the meantime.
	MarkProcessing(ctx context.Context, id string, stuckBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// RescheduleRetry reverts processing -> pending with the new attempt
	// count and backoff deadline.
	RescheduleRetry(ctx context.Context, id string, retryCount int, at time.Time, lastError string) error
	// Cancel transitions pending/processing -> cancelled; returns false when
	// the row does not exist or is already terminal.
	Cancel(ctx context.Context, id string) (bool, error)
	// DeleteTerminalBefore is the retention sweep.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

type QueueRepositoryImpl struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepositoryImpl {
	return &QueueRepositoryImpl{db: db}
}

var _ QueueRepository = (*QueueRepositoryImpl)(nil)

func (r *QueueRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *QueueRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, m model.QueuedMessage) error {
	const q = `
		INSERT INTO queued_messages
		    (id, tenant_id, channel, phone, body, template_name, template_vars,
		     priority, scheduled_for, retry_count, max_retries, status,
		     rule_id, conversation_id, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 'pending', ?, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.TenantID, m.Channel.String(), m.Phone, m.Body,
			m.TemplateName, m.TemplateVars, int(m.Priority), m.ScheduledFor,
			m.MaxRetries, m.RuleID, m.ConversationID,
		)
		return err
	})
}

func (r *QueueRepositoryImpl) GetByID(ctx context.Context, id string) (*model.QueuedMessage, error) {
	var m model.QueuedMessage
	err := r.db.GetContext(ctx, &m, `SELECT * FROM queued_messages WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *QueueRepositoryImpl) SelectDue(ctx context.Context, channel model.Channel, limit int, stuckBefore, now time.Time) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT * FROM queued_messages
		 WHERE channel = ?
		   AND (status = 'pending' OR (status = 'processing' AND updated_at < ?))
		   AND scheduled_for <= ?
		 ORDER BY priority DESC, scheduled_for ASC
		 LIMIT ?
	`
	var rows []model.QueuedMessage
	if err := r.db.SelectContext(ctx, &rows, q, channel.String(), stuckBefore, now, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *QueueRepositoryImpl) MarkProcessing(ctx context.Context, id string, stuckBefore time.Time) (bool, error) {
	const q = `
		UPDATE queued_messages
		   SET status = 'processing', updated_at = NOW()
		 WHERE id = ?
		   AND (status = 'pending' OR (status = 'processing' AND updated_at < ?))
	`
	res, err := r.db.ExecContext(ctx, q, id, stuckBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueueRepositoryImpl) MarkSent(ctx context.Context, id string) error {
	const q = `UPDATE queued_messages SET status = 'sent', updated_at = NOW() WHERE id = ? AND status = 'processing'`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *QueueRepositoryImpl) MarkFailed(ctx context.Context, id, reason string) error {
	const q = `
		UPDATE queued_messages
		   SET status = 'failed', last_error = ?, updated_at = NOW()
		 WHERE id = ? AND status IN ('pending', 'processing')
	`
	_, err := r.db.ExecContext(ctx, q, reason, id)
	return err
}

func (r *QueueRepositoryImpl) RescheduleRetry(ctx context.Context, id string, retryCount int, at time.Time, lastError string) error {
	const q = `
		UPDATE queued_messages
		   SET status = 'pending', retry_count = ?, scheduled_for = ?, last_error = ?, updated_at = NOW()
		 WHERE id = ? AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, q, retryCount, at, lastError, id)
	return err
}

func (r *QueueRepositoryImpl) Cancel(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE queued_messages
		   SET status = 'cancelled', updated_at = NOW()
		 WHERE id = ? AND status IN ('pending', 'processing')
	`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueueRepositoryImpl) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	const q = `
		DELETE FROM queued_messages
		 WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < ?
	`
	res, err := r.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
