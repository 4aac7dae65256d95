package repository

import (
	"context"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHDeliveriesRepository lists delivery reports from ClickHouse (final view),
// the read model CRM operators use to inspect failed sends.
type CHDeliveriesRepository interface {
	ListByTenant(ctx context.Context, tenantID int64, phone string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryRecord, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) ListByTenant(ctx context.Context, tenantID int64, phone string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, message_id, tenant_id, channel, direction, provider_message_id,
		       status, sent_at, delivered_at, read_at, failed_at,
		       error_code, error_message, created_at, updated_at
		FROM msgengine.deliveries_latest
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if phone != "" {
		q += " AND message_id IN (SELECT id FROM msgengine.messages_latest WHERE phone = ?)"
		args = append(args, phone)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
