package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/util"
	"go.uber.org/zap"
)

// Manager owns per-(tenant, phone) thread state. GetOrCreate is the only
// creation path; concurrent first-contact webhooks for the same phone resolve
// through the unique key, never through duplicate rows.
type Manager struct {
	repo repository.ConversationRepository
	log  *zap.Logger
}

func NewManager(repo repository.ConversationRepository, log *zap.Logger) *Manager {
	return &Manager{repo: repo, log: log}
}

func (m *Manager) GetOrCreate(ctx context.Context, tenantID int64, phone string) (*model.Conversation, error) {
	c, err := m.repo.GetByTenantPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if c != nil {
		return c, nil
	}

	nc := model.Conversation{
		ID:       util.NewID(),
		TenantID: tenantID,
		Phone:    phone,
		Status:   model.ConversationActive,
	}
	if err := m.repo.Insert(ctx, nc); err != nil {
		if repository.IsDuplicateEntry(err) {
			// lost the creation race: fetch the winner
			return m.repo.GetByTenantPhone(ctx, tenantID, phone)
		}
		return nil, fmt.Errorf("conversation insert: %w", err)
	}

	m.log.Debug("conversation created",
		zap.Int64("tenant_id", tenantID), zap.String("phone", phone), zap.String("id", nc.ID))

	nc.CreatedAt = time.Now()
	return &nc, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *Manager) Update(ctx context.Context, id string, patch repository.ConversationPatch) error {
	return m.repo.Update(ctx, id, patch)
}

// RecordInbound bumps unread by exactly one and reopens closed threads.
func (m *Manager) RecordInbound(ctx context.Context, id string, at time.Time) error {
	return m.repo.RecordInbound(ctx, id, at)
}

func (m *Manager) RecordOutbound(ctx context.Context, id string, at time.Time) error {
	return m.repo.RecordOutbound(ctx, id, at)
}

// MarkAsRead resets unread_count to zero.
func (m *Manager) MarkAsRead(ctx context.Context, id string) error {
	return m.repo.MarkAsRead(ctx, id)
}

func (m *Manager) Assign(ctx context.Context, id string, userID int64) error {
	return m.repo.Assign(ctx, id, userID)
}

func (m *Manager) Close(ctx context.Context, id string) error {
	return m.repo.SetStatus(ctx, id, model.ConversationClosed)
}

func (m *Manager) Reopen(ctx context.Context, id string) error {
	return m.repo.SetStatus(ctx, id, model.ConversationActive)
}

// Stats is a derived read-only view.
func (m *Manager) Stats(ctx context.Context, tenantID int64) (model.ConversationStats, error) {
	return m.repo.Stats(ctx, tenantID)
}
