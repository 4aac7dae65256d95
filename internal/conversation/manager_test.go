package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConvRepo struct {
	byKey           map[string]*model.Conversation
	insertErr       error
	inserted        int
	reads           int
	statusSets      map[string]model.ConversationStatus
	missFirstLookup bool
	lookups         int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byKey:      map[string]*model.Conversation{},
		statusSets: map[string]model.ConversationStatus{},
	}
}

func key(tenantID int64, phone string) string {
	return phone // single tenant in tests
}

func (f *fakeConvRepo) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	for _, c := range f.byKey {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeConvRepo) GetByTenantPhone(_ context.Context, tenantID int64, phone string) (*model.Conversation, error) {
	f.lookups++
	if f.missFirstLookup && f.lookups == 1 {
		return nil, nil
	}
	return f.byKey[key(tenantID, phone)], nil
}

func (f *fakeConvRepo) Insert(_ context.Context, c model.Conversation) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted++
	cc := c
	f.byKey[key(c.TenantID, c.Phone)] = &cc
	return nil
}

func (f *fakeConvRepo) Update(_ context.Context, _ string, _ repository.ConversationPatch) error {
	return nil
}

func (f *fakeConvRepo) RecordInbound(_ context.Context, id string, _ time.Time) error {
	c, _ := f.GetByID(context.Background(), id)
	if c != nil {
		c.UnreadCount++
	}
	return nil
}

func (f *fakeConvRepo) RecordOutbound(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeConvRepo) MarkAsRead(_ context.Context, id string) error {
	f.reads++
	c, _ := f.GetByID(context.Background(), id)
	if c != nil {
		c.UnreadCount = 0
	}
	return nil
}

func (f *fakeConvRepo) Assign(_ context.Context, _ string, _ int64) error { return nil }

func (f *fakeConvRepo) SetStatus(_ context.Context, id string, st model.ConversationStatus) error {
	f.statusSets[id] = st
	return nil
}

func (f *fakeConvRepo) Stats(_ context.Context, _ int64) (model.ConversationStats, error) {
	return model.ConversationStats{}, nil
}

func TestGetOrCreateCreatesOnce(t *testing.T) {
	repo := newFakeConvRepo()
	m := conversation.NewManager(repo, zap.NewNop())

	c1, err := m.GetOrCreate(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)
	require.NotNil(t, c1)

	c2, err := m.GetOrCreate(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, 1, repo.inserted)
}

func TestGetOrCreateDuplicateKeyResolvesAsFetch(t *testing.T) {
	repo := newFakeConvRepo()
	// simulate a concurrent creator winning the race: the initial lookup
	// misses, the insert hits the unique key, the retry fetch finds the winner
	winner := &model.Conversation{ID: "winner", TenantID: 1, Phone: "+5511999990000", Status: model.ConversationActive}
	repo.byKey[key(1, "+5511999990000")] = winner
	repo.missFirstLookup = true
	repo.insertErr = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

	m := conversation.NewManager(repo, zap.NewNop())

	c, err := m.GetOrCreate(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "winner", c.ID)
}

func TestMarkAsReadResetsUnread(t *testing.T) {
	repo := newFakeConvRepo()
	m := conversation.NewManager(repo, zap.NewNop())

	c, err := m.GetOrCreate(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)

	require.NoError(t, m.RecordInbound(context.Background(), c.ID, time.Now()))
	require.NoError(t, m.RecordInbound(context.Background(), c.ID, time.Now()))

	stored, _ := repo.GetByID(context.Background(), c.ID)
	assert.Equal(t, 2, stored.UnreadCount)

	require.NoError(t, m.MarkAsRead(context.Background(), c.ID))
	stored, _ = repo.GetByID(context.Background(), c.ID)
	assert.Equal(t, 0, stored.UnreadCount)
}

func TestCloseAndReopen(t *testing.T) {
	repo := newFakeConvRepo()
	m := conversation.NewManager(repo, zap.NewNop())

	c, err := m.GetOrCreate(context.Background(), 1, "+5511988887777")
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background(), c.ID))
	assert.Equal(t, model.ConversationClosed, repo.statusSets[c.ID])

	require.NoError(t, m.Reopen(context.Background(), c.ID))
	assert.Equal(t, model.ConversationActive, repo.statusSets[c.ID])
}
