package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/queue"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueueRepo struct {
	rows      map[string]*model.QueuedMessage
	cancelled []string
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{rows: map[string]*model.QueuedMessage{}}
}

func (f *fakeQueueRepo) Insert(_ context.Context, _ *sqlx.Tx, m model.QueuedMessage) error {
	mm := m
	f.rows[m.ID] = &mm
	return nil
}

func (f *fakeQueueRepo) GetByID(_ context.Context, id string) (*model.QueuedMessage, error) {
	return f.rows[id], nil
}

func (f *fakeQueueRepo) SelectDue(_ context.Context, _ model.Channel, _ int, _, _ time.Time) ([]model.QueuedMessage, error) {
	return nil, nil
}

func (f *fakeQueueRepo) MarkProcessing(_ context.Context, _ string, _ time.Time) (bool, error) {
	return true, nil
}

func (f *fakeQueueRepo) MarkSent(_ context.Context, _ string) error { return nil }

func (f *fakeQueueRepo) MarkFailed(_ context.Context, _, _ string) error { return nil }

func (f *fakeQueueRepo) RescheduleRetry(_ context.Context, _ string, _ int, _ time.Time, _ string) error {
	return nil
}

func (f *fakeQueueRepo) Cancel(_ context.Context, id string) (bool, error) {
	m, ok := f.rows[id]
	if !ok || m.Status.Terminal() {
		return false, nil
	}
	m.Status = model.QueueCancelled
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func (f *fakeQueueRepo) DeleteTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Insert(_ context.Context, _ *sqlx.Tx, _, _, topic string, _ []byte) error {
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeOutbox) FetchUnpublished(_ context.Context, _ int) ([]model.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, _ []int64) error { return nil }

func (f *fakeOutbox) IncrementAttempts(_ context.Context, _ int64) error { return nil }

type fakeTemplates struct {
	byName map[string]*model.Template
}

func (f *fakeTemplates) GetByName(_ context.Context, _ int64, name string) (*model.Template, error) {
	return f.byName[name], nil
}

func (f *fakeTemplates) IncrementUsage(_ context.Context, _ int64, _ string) error { return nil }

func newService(repo *fakeQueueRepo, outbox *fakeOutbox) *queue.Service {
	renderer := template.NewRenderer(&fakeTemplates{byName: map[string]*model.Template{
		"greeting": {
			Name:         "greeting",
			Body:         "Olá {{name}}!",
			RequiredVars: model.StringList{"name"},
			Status:       model.TemplateApproved,
		},
	}})
	return queue.New(nil, repo, outbox, renderer, nil)
}

func validRequest() queue.EnqueueRequest {
	return queue.EnqueueRequest{
		TenantID: 1,
		Channel:  model.ChannelWhatsApp,
		Phone:    "+5511999990000",
		Body:     "Seu contrato está pronto.",
		Priority: model.PriorityNormal,
	}
}

func TestEnqueuePersistsPendingAndOutboxEvent(t *testing.T) {
	repo := newFakeQueueRepo()
	outbox := &fakeOutbox{}
	svc := newService(repo, outbox)

	id, err := svc.Enqueue(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	m := repo.rows[id]
	require.NotNil(t, m)
	assert.Equal(t, model.QueuePending, m.Status)
	assert.Equal(t, 0, m.RetryCount)
	assert.Equal(t, []string{model.EventMessageQueued}, outbox.topics)
}

func TestEnqueueMaxRetriesDefaultsPerChannel(t *testing.T) {
	repo := newFakeQueueRepo()
	renderer := template.NewRenderer(&fakeTemplates{})
	svc := queue.New(nil, repo, &fakeOutbox{}, renderer, map[model.Channel]int{
		model.ChannelWhatsApp: 5,
	})

	id, err := svc.Enqueue(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, 5, repo.rows[id].MaxRetries)

	// no channel default configured: falls back to the global one
	req := validRequest()
	req.Channel = model.ChannelSMS
	id, err = svc.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.rows[id].MaxRetries)

	// the request value always wins
	req = validRequest()
	req.MaxRetries = 7
	id, err = svc.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 7, repo.rows[id].MaxRetries)
}

func TestEnqueueRejectsBadPhone(t *testing.T) {
	svc := newService(newFakeQueueRepo(), &fakeOutbox{})

	req := validRequest()
	req.Phone = "not-a-phone"
	_, err := svc.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestEnqueueRejectsBodyAndTemplateTogether(t *testing.T) {
	svc := newService(newFakeQueueRepo(), &fakeOutbox{})

	req := validRequest()
	req.TemplateName = "greeting"
	req.TemplateVars = map[string]string{"name": "Ana"}
	_, err := svc.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestEnqueueRejectsTemplateMissingVariable(t *testing.T) {
	svc := newService(newFakeQueueRepo(), &fakeOutbox{})

	req := validRequest()
	req.Body = ""
	req.TemplateName = "greeting"
	req.TemplateVars = map[string]string{}
	_, err := svc.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestEnqueueBulkIsolatesFailures(t *testing.T) {
	repo := newFakeQueueRepo()
	svc := newService(repo, &fakeOutbox{})

	bad := validRequest()
	bad.Phone = "123"

	results := svc.EnqueueBulk(context.Background(), []queue.EnqueueRequest{
		validRequest(), bad, validRequest(),
	})

	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].ID)
	assert.Empty(t, results[1].ID)
	assert.NotEmpty(t, results[1].Error)
	assert.NotEmpty(t, results[2].ID)
	assert.Len(t, repo.rows, 2)
}

func TestCancelPendingMessage(t *testing.T) {
	repo := newFakeQueueRepo()
	svc := newService(repo, &fakeOutbox{})

	id, err := svc.Enqueue(context.Background(), validRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), id))
	assert.Equal(t, model.QueueCancelled, repo.rows[id].Status)

	// already terminal: reports not found
	assert.ErrorIs(t, svc.Cancel(context.Background(), id), queue.ErrNotFound)
}

func TestCancelUnknownMessage(t *testing.T) {
	svc := newService(newFakeQueueRepo(), &fakeOutbox{})
	assert.ErrorIs(t, svc.Cancel(context.Background(), "nope"), queue.ErrNotFound)
}
