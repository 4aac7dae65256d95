package optout

import (
	"context"
	"errors"
	"testing"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	entries map[string]*model.OptOutEntry
	getErr  error
	updates []model.OptOutEntry
}

func (f *fakeStore) Get(_ context.Context, tenantID int64, phone string) (*model.OptOutEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entries[phone], nil
}

func (f *fakeStore) Upsert(_ context.Context, e model.OptOutEntry) error {
	f.updates = append(f.updates, e)
	if f.entries == nil {
		f.entries = map[string]*model.OptOutEntry{}
	}
	f.entries[e.Phone] = &e
	return nil
}

func TestDetectKeyword(t *testing.T) {
	cases := map[string]Action{
		"STOP":      ActionOptOut,
		" parar ":   ActionOptOut,
		"Cancelar":  ActionOptOut,
		"sair.":     ActionOptOut,
		"START":     ActionOptIn,
		"voltar":    ActionOptIn,
		"oi, tudo?": ActionNone,
		"":          ActionNone,
		"pare de me mandar": ActionNone, // only exact keyword matches toggle
	}
	for text, want := range cases {
		assert.Equal(t, want, DetectKeyword(text), "text=%q", text)
	}
}

func TestIsOptedOutUnknownNumberDefaultsOptedIn(t *testing.T) {
	r := NewRegistry(&fakeStore{}, nil, zap.NewNop())

	out, err := r.IsOptedOut(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)
	assert.False(t, out)
}

func TestIsOptedOutFailsClosedOnStoreError(t *testing.T) {
	r := NewRegistry(&fakeStore{getErr: errors.New("db down")}, nil, zap.NewNop())

	out, err := r.IsOptedOut(context.Background(), 1, "+5511999990000")
	assert.Error(t, err)
	assert.True(t, out, "a lookup failure must report opted-out")
}

func TestHandleInboundStopTogglesOptOut(t *testing.T) {
	store := &fakeStore{}
	r := NewRegistry(store, nil, zap.NewNop())

	action, err := r.HandleInboundText(context.Background(), 1, "+5511999990000", "STOP")
	require.NoError(t, err)
	assert.Equal(t, ActionOptOut, action)

	out, err := r.IsOptedOut(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)
	assert.True(t, out)

	// START flips it back; last writer wins
	action, err = r.HandleInboundText(context.Background(), 1, "+5511999990000", "start")
	require.NoError(t, err)
	assert.Equal(t, ActionOptIn, action)

	out, err = r.IsOptedOut(context.Background(), 1, "+5511999990000")
	require.NoError(t, err)
	assert.False(t, out)
}
