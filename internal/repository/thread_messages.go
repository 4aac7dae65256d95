package repository

import (
	"context"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// ThreadRepository persists thread_messages (conversation items).
type ThreadRepository interface {
	// InsertInbound is the idempotent ingestion path: the unique key on
	// provider_message_id makes a duplicate webhook delivery a no-op.
	// Returns false when the row already existed.
	InsertInbound(ctx context.Context, m model.ThreadMessage) (bool, error)
	InsertOutbound(ctx context.Context, m model.ThreadMessage) error
	// AttachStatusTimestamp records delivered/read times on the thread item
	// matching a provider message id. Other fields stay append-only.
	AttachStatusTimestamp(ctx context.Context, providerMessageID string, status model.DeliveryStatus, at time.Time) error
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.ThreadMessage, error)
}

type ThreadRepositoryImpl struct {
	db *sqlx.DB
}

func NewThreadRepository(db *sqlx.DB) *ThreadRepositoryImpl {
	return &ThreadRepositoryImpl{db: db}
}

var _ ThreadRepository = (*ThreadRepositoryImpl)(nil)

func (r *ThreadRepositoryImpl) InsertInbound(ctx context.Context, m model.ThreadMessage) (bool, error) {
	const q = `
		INSERT IGNORE INTO thread_messages
		    (id, conversation_id, direction, body, media_url, provider_message_id, created_at)
		VALUES
		    (?, ?, 'inbound', ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, m.ID, m.ConversationID, m.Body, m.MediaURL, m.ProviderMessageID, m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ThreadRepositoryImpl) InsertOutbound(ctx context.Context, m model.ThreadMessage) error {
	const q = `
		INSERT INTO thread_messages
		    (id, conversation_id, direction, body, media_url, provider_message_id, created_at)
		VALUES
		    (?, ?, 'outbound', ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, q, m.ID, m.ConversationID, m.Body, m.MediaURL, m.ProviderMessageID, m.CreatedAt)
	return err
}

func (r *ThreadRepositoryImpl) AttachStatusTimestamp(ctx context.Context, providerMessageID string, status model.DeliveryStatus, at time.Time) error {
	var col string
	switch status {
	case model.DeliveryDelivered:
		col = "delivered_at"
	case model.DeliveryRead:
		col = "read_at"
	default:
		return nil
	}
	q := `UPDATE thread_messages SET ` + col + ` = ? WHERE provider_message_id = ? AND ` + col + ` IS NULL`
	_, err := r.db.ExecContext(ctx, q, at, providerMessageID)
	return err
}

func (r *ThreadRepositoryImpl) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.ThreadMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `
		SELECT * FROM thread_messages
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?
	`
	var rows []model.ThreadMessage
	if err := r.db.SelectContext(ctx, &rows, q, conversationID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
