package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// IsDuplicateEntry reports whether err is a MySQL unique-key violation.
// Conversation creation races resolve duplicate-key as fetch.
func IsDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// ConversationPatch carries optional field updates; nil means untouched.
type ConversationPatch struct {
	Status     *model.ConversationStatus
	AssignedTo *int64
	LeadID     *int64
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	GetByTenantPhone(ctx context.Context, tenantID int64, phone string) (*model.Conversation, error)
	Insert(ctx context.Context, c model.Conversation) error
	Update(ctx context.Context, id string, patch ConversationPatch) error
	// RecordInbound bumps unread_count by exactly one and touches the
	// last-message fields.
	RecordInbound(ctx context.Context, id string, at time.Time) error
	RecordOutbound(ctx context.Context, id string, at time.Time) error
	MarkAsRead(ctx context.Context, id string) error
	Assign(ctx context.Context, id string, userID int64) error
	SetStatus(ctx context.Context, id string, status model.ConversationStatus) error
	Stats(ctx context.Context, tenantID int64) (model.ConversationStats, error)
}

type ConversationRepositoryImpl struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepositoryImpl {
	return &ConversationRepositoryImpl{db: db}
}

var _ ConversationRepository = (*ConversationRepositoryImpl)(nil)

func (r *ConversationRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `SELECT * FROM conversations WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepositoryImpl) GetByTenantPhone(ctx context.Context, tenantID int64, phone string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `
		SELECT * FROM conversations WHERE tenant_id = ? AND phone = ? LIMIT 1
	`, tenantID, phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepositoryImpl) Insert(ctx context.Context, c model.Conversation) error {
	const q = `
		INSERT INTO conversations
		    (id, tenant_id, phone, status, unread_count, lead_id, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, 0, ?, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.TenantID, c.Phone, c.Status.String(), c.LeadID)
	return err
}

func (r *ConversationRepositoryImpl) Update(ctx context.Context, id string, patch ConversationPatch) error {
	q := `UPDATE conversations SET updated_at = NOW()`
	args := []any{}
	if patch.Status != nil {
		q += `, status = ?`
		args = append(args, patch.Status.String())
	}
	if patch.AssignedTo != nil {
		q += `, assigned_to = ?`
		args = append(args, *patch.AssignedTo)
	}
	if patch.LeadID != nil {
		q += `, lead_id = ?`
		args = append(args, *patch.LeadID)
	}
	q += ` WHERE id = ?`
	args = append(args, id)

	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

func (r *ConversationRepositoryImpl) RecordInbound(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE conversations
		   SET unread_count = unread_count + 1,
		       last_message_at = ?,
		       last_message_direction = 'inbound',
		       status = IF(status = 'closed', 'active', status),
		       updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}

func (r *ConversationRepositoryImpl) RecordOutbound(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE conversations
		   SET last_message_at = ?,
		       last_message_direction = 'outbound',
		       updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}

func (r *ConversationRepositoryImpl) MarkAsRead(ctx context.Context, id string) error {
	const q = `UPDATE conversations SET unread_count = 0, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *ConversationRepositoryImpl) Assign(ctx context.Context, id string, userID int64) error {
	const q = `UPDATE conversations SET assigned_to = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, userID, id)
	return err
}

func (r *ConversationRepositoryImpl) SetStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	const q = `UPDATE conversations SET status = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, status.String(), id)
	return err
}

func (r *ConversationRepositoryImpl) Stats(ctx context.Context, tenantID int64) (model.ConversationStats, error) {
	const q = `
		SELECT
		    COALESCE(SUM(status = 'active'), 0)  AS active,
		    COALESCE(SUM(status = 'waiting'), 0) AS waiting,
		    COALESCE(SUM(status = 'closed'), 0)  AS closed,
		    COALESCE(SUM(unread_count), 0)       AS unread_total
		  FROM conversations
		 WHERE tenant_id = ?
	`
	var s model.ConversationStats
	if err := r.db.GetContext(ctx, &s, q, tenantID); err != nil {
		return model.ConversationStats{}, err
	}
	return s, nil
}
