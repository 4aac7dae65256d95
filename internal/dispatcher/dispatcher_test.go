package dispatcher_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/dispatcher"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/provider"
	"github.com/imobflow/messaging-engine/internal/ratelimit"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memQueue struct {
	mu   sync.Mutex
	rows map[string]*model.QueuedMessage
}

func newMemQueue() *memQueue {
	return &memQueue{rows: map[string]*model.QueuedMessage{}}
}

func (q *memQueue) add(m model.QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mm := m
	q.rows[m.ID] = &mm
}

func (q *memQueue) get(id string) model.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.rows[id]
}

func (q *memQueue) Insert(_ context.Context, _ *sqlx.Tx, m model.QueuedMessage) error {
	q.add(m)
	return nil
}

func (q *memQueue) GetByID(_ context.Context, id string) (*model.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rows[id], nil
}

func (q *memQueue) SelectDue(_ context.Context, channel model.Channel, limit int, _, now time.Time) ([]model.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []model.QueuedMessage
	for _, m := range q.rows {
		if m.Channel == channel && m.Status == model.QueuePending && !m.ScheduledFor.After(now) {
			due = append(due, *m)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *memQueue) MarkProcessing(_ context.Context, id string, _ time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.rows[id]
	if !ok || m.Status != model.QueuePending {
		return false, nil
	}
	m.Status = model.QueueProcessing
	return true, nil
}

func (q *memQueue) MarkSent(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rows[id].Status = model.QueueSent
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.rows[id]
	m.Status = model.QueueFailed
	m.LastError.String = reason
	m.LastError.Valid = true
	return nil
}

func (q *memQueue) RescheduleRetry(_ context.Context, id string, retryCount int, at time.Time, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.rows[id]
	m.Status = model.QueuePending
	m.RetryCount = retryCount
	m.ScheduledFor = at
	m.LastError.String = lastError
	m.LastError.Valid = true
	return nil
}

func (q *memQueue) Cancel(_ context.Context, _ string) (bool, error) { return false, nil }

func (q *memQueue) DeleteTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type memDeliveries struct {
	mu      sync.Mutex
	records []model.DeliveryRecord
}

func (d *memDeliveries) Insert(_ context.Context, _ *sqlx.Tx, rec model.DeliveryRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
	return nil
}

func (d *memDeliveries) GetByProviderMessageID(_ context.Context, _ string) (*model.DeliveryRecord, error) {
	return nil, nil
}

func (d *memDeliveries) UpdateStatus(_ context.Context, _ string, _ model.DeliveryStatus, _ time.Time, _, _ string) error {
	return nil
}

func (d *memDeliveries) ListByTenant(_ context.Context, _ int64, _ model.DeliveryStatus, _ string, _, _ int) ([]model.DeliveryRecord, error) {
	return nil, nil
}

type memThreads struct {
	mu       sync.Mutex
	outbound []model.ThreadMessage
}

func (t *memThreads) InsertInbound(_ context.Context, _ model.ThreadMessage) (bool, error) {
	return true, nil
}

func (t *memThreads) InsertOutbound(_ context.Context, m model.ThreadMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outbound = append(t.outbound, m)
	return nil
}

func (t *memThreads) AttachStatusTimestamp(_ context.Context, _ string, _ model.DeliveryStatus, _ time.Time) error {
	return nil
}

func (t *memThreads) ListByConversation(_ context.Context, _ string, _, _ int) ([]model.ThreadMessage, error) {
	return nil, nil
}

type memConvs struct {
	mu    sync.Mutex
	byKey map[string]*model.Conversation
}

func newMemConvs() *memConvs {
	return &memConvs{byKey: map[string]*model.Conversation{}}
}

func (c *memConvs) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.byKey {
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, nil
}

func (c *memConvs) GetByTenantPhone(_ context.Context, _ int64, phone string) (*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKey[phone], nil
}

func (c *memConvs) Insert(_ context.Context, conv model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc := conv
	c.byKey[conv.Phone] = &cc
	return nil
}

func (c *memConvs) Update(_ context.Context, _ string, _ repository.ConversationPatch) error {
	return nil
}

func (c *memConvs) RecordInbound(_ context.Context, _ string, _ time.Time) error  { return nil }
func (c *memConvs) RecordOutbound(_ context.Context, _ string, _ time.Time) error { return nil }
func (c *memConvs) MarkAsRead(_ context.Context, _ string) error                  { return nil }
func (c *memConvs) Assign(_ context.Context, _ string, _ int64) error             { return nil }
func (c *memConvs) SetStatus(_ context.Context, _ string, _ model.ConversationStatus) error {
	return nil
}
func (c *memConvs) Stats(_ context.Context, _ int64) (model.ConversationStats, error) {
	return model.ConversationStats{}, nil
}

type fakeOptOuts struct {
	blocked map[string]bool
	err     error
}

func (f *fakeOptOuts) IsOptedOut(_ context.Context, _ int64, phone string) (bool, error) {
	if f.err != nil {
		return true, f.err
	}
	return f.blocked[phone], nil
}

type fakeTemplates struct {
	byName map[string]*model.Template
	usage  map[string]int
}

func (f *fakeTemplates) GetByName(_ context.Context, _ int64, name string) (*model.Template, error) {
	return f.byName[name], nil
}

func (f *fakeTemplates) IncrementUsage(_ context.Context, _ int64, name string) error {
	if f.usage == nil {
		f.usage = map[string]int{}
	}
	f.usage[name]++
	return nil
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []provider.SendRequest
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Send(_ context.Context, req provider.SendRequest) (provider.SendResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return provider.SendResult{}, f.err
	}
	f.sent = append(f.sent, req)
	return provider.SendResult{ProviderMessageID: "pmid-" + req.To}, nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeOutbox struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeOutbox) Insert(_ context.Context, _ *sqlx.Tx, _, _, topic string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeOutbox) FetchUnpublished(_ context.Context, _ int) ([]model.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, _ []int64) error   { return nil }
func (f *fakeOutbox) IncrementAttempts(_ context.Context, _ int64) error { return nil }

type fixture struct {
	queue      *memQueue
	deliveries *memDeliveries
	threads    *memThreads
	optouts    *fakeOptOuts
	templates  *fakeTemplates
	client     *fakeClient
	outbox     *fakeOutbox
	limiter    *ratelimit.TokenBucket
	d          *dispatcher.Dispatcher
}

func newFixture(cfg dispatcher.Config, capacity int) *fixture {
	f := &fixture{
		queue:      newMemQueue(),
		deliveries: &memDeliveries{},
		threads:    &memThreads{},
		optouts:    &fakeOptOuts{blocked: map[string]bool{}},
		templates:  &fakeTemplates{byName: map[string]*model.Template{}},
		client:     &fakeClient{},
		outbox:     &fakeOutbox{},
		limiter:    ratelimit.NewTokenBucket(capacity, time.Hour),
	}
	if cfg.Channel == "" {
		cfg.Channel = model.ChannelWhatsApp
	}
	f.d = dispatcher.New(
		cfg,
		f.queue,
		f.deliveries,
		f.threads,
		conversation.NewManager(newMemConvs(), zap.NewNop()),
		f.optouts,
		template.NewRenderer(f.templates),
		f.templates,
		f.client,
		f.limiter,
		f.outbox,
		zap.NewNop(),
	)
	return f
}

func pending(id string, prio model.Priority) model.QueuedMessage {
	return model.QueuedMessage{
		ID:           id,
		TenantID:     1,
		Channel:      model.ChannelWhatsApp,
		Phone:        "+55119999" + id,
		Body:         "Olá!",
		Priority:     prio,
		ScheduledFor: time.Now().Add(-time.Second),
		MaxRetries:   3,
		Status:       model.QueuePending,
	}
}

func TestRunCycleSendsHighPriorityFirstUnderCapacity(t *testing.T) {
	f := newFixture(dispatcher.Config{}, 3)

	for i := 0; i < 5; i++ {
		f.queue.add(pending("high-"+string(rune('a'+i)), model.PriorityHigh))
		f.queue.add(pending("norm-"+string(rune('a'+i)), model.PriorityNormal))
	}

	stats := f.d.RunCycle(context.Background())

	assert.Equal(t, 10, stats.Selected)
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 7, stats.Deferred)
	require.Equal(t, 3, f.client.sentCount())
	for _, req := range f.client.sent {
		assert.Contains(t, req.To, "high-")
	}
}

func TestOptedOutRecipientNeverReachesProvider(t *testing.T) {
	f := newFixture(dispatcher.Config{}, 10)
	m := pending("m1", model.PriorityNormal)
	f.queue.add(m)
	f.optouts.blocked[m.Phone] = true

	stats := f.d.RunCycle(context.Background())

	assert.Equal(t, 0, f.client.sentCount())
	assert.Equal(t, 1, stats.Failed)

	row := f.queue.get("m1")
	assert.Equal(t, model.QueueFailed, row.Status)
	assert.Equal(t, "opted_out", row.LastError.String)

	require.Len(t, f.deliveries.records, 1)
	rec := f.deliveries.records[0]
	assert.Equal(t, model.DeliveryFailed, rec.Status)
	assert.Equal(t, "opted_out", rec.ErrorCode.String)
}

func TestOptOutLookupErrorDefersWithoutSending(t *testing.T) {
	f := newFixture(dispatcher.Config{BaseDelay: time.Minute}, 10)
	f.queue.add(pending("m1", model.PriorityNormal))
	f.optouts.err = errors.New("store down")

	stats := f.d.RunCycle(context.Background())

	assert.Equal(t, 0, f.client.sentCount())
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, 0, stats.Failed)

	row := f.queue.get("m1")
	assert.Equal(t, model.QueuePending, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.True(t, row.ScheduledFor.After(time.Now().Add(time.Minute)))
}

func TestRetryBackoffDoublesPerAttempt(t *testing.T) {
	f := newFixture(dispatcher.Config{BaseDelay: time.Minute}, 10)
	f.queue.add(pending("m1", model.PriorityNormal))
	f.client.err = &provider.SendError{Code: provider.CodeProviderError, Message: "boom", Temporary: true}

	f.d.RunCycle(context.Background())
	first := f.queue.get("m1")
	require.Equal(t, 1, first.RetryCount)
	firstDelay := time.Until(first.ScheduledFor)

	// make it due again and run the next attempt
	f.queue.RescheduleRetry(context.Background(), "m1", 1, time.Now().Add(-time.Second), "boom")
	f.d.RunCycle(context.Background())
	second := f.queue.get("m1")
	require.Equal(t, 2, second.RetryCount)
	secondDelay := time.Until(second.ScheduledFor)

	assert.InDelta(t, 2.0, float64(secondDelay)/float64(firstDelay), 0.1)
}

func TestMaxRetriesExhaustedFailsTerminally(t *testing.T) {
	f := newFixture(dispatcher.Config{}, 10)
	m := pending("m1", model.PriorityNormal)
	m.RetryCount = 2
	m.MaxRetries = 3
	f.queue.add(m)
	f.client.err = &provider.SendError{Code: provider.CodeProviderError, Message: "boom", Temporary: true}

	stats := f.d.RunCycle(context.Background())

	assert.Equal(t, 1, stats.Failed)
	row := f.queue.get("m1")
	assert.Equal(t, model.QueueFailed, row.Status)
	require.Len(t, f.deliveries.records, 1)
	assert.Equal(t, model.DeliveryFailed, f.deliveries.records[0].Status)
}

func TestPermanentRejectionFailsWithoutRetry(t *testing.T) {
	f := newFixture(dispatcher.Config{}, 10)
	f.queue.add(pending("m1", model.PriorityNormal))
	f.client.err = &provider.SendError{Code: provider.CodeInvalidDestination, Message: "bad number", Temporary: false}

	stats := f.d.RunCycle(context.Background())

	assert.Equal(t, 0, stats.Retried)
	assert.Equal(t, 1, stats.Failed)
	row := f.queue.get("m1")
	assert.Equal(t, model.QueueFailed, row.Status)
	assert.Equal(t, 0, row.RetryCount)
	assert.Equal(t, "invalid_destination", f.deliveries.records[0].ErrorCode.String)
}

func TestSuccessfulSendRecordsThreadAndEvent(t *testing.T) {
	f := newFixture(dispatcher.Config{}, 10)
	f.templates.byName["greeting"] = &model.Template{
		Name:         "greeting",
		Body:         "Olá {{name}}!",
		RequiredVars: model.StringList{"name"},
		Status:       model.TemplateApproved,
	}
	m := pending("m1", model.PriorityNormal)
	m.Body = ""
	m.TemplateName.String = "greeting"
	m.TemplateName.Valid = true
	m.TemplateVars = model.Vars{"name": "Ana"}
	f.queue.add(m)

	f.d.RunCycle(context.Background())

	row := f.queue.get("m1")
	assert.Equal(t, model.QueueSent, row.Status)

	require.Equal(t, 1, f.client.sentCount())
	assert.Equal(t, "Olá Ana!", f.client.sent[0].Body)

	require.Len(t, f.deliveries.records, 1)
	assert.Equal(t, model.DeliverySent, f.deliveries.records[0].Status)
	assert.True(t, f.deliveries.records[0].SentAt.Valid)

	require.Len(t, f.threads.outbound, 1)
	assert.Equal(t, model.DirectionOutbound, f.threads.outbound[0].Direction)
	assert.Equal(t, "Olá Ana!", f.threads.outbound[0].Body)

	assert.Equal(t, []string{model.EventMessageSent}, f.outbox.topics)
	assert.Equal(t, 1, f.templates.usage["greeting"])
}

func TestRunCycleIsSingleFlight(t *testing.T) {
	f := newFixture(dispatcher.Config{}, 10)
	f.queue.add(pending("m1", model.PriorityNormal))
	f.client.entered = make(chan struct{})
	f.client.release = make(chan struct{})

	done := make(chan dispatcher.CycleStats, 1)
	go func() { done <- f.d.RunCycle(context.Background()) }()

	<-f.client.entered // first cycle is mid-send

	overlapping := f.d.RunCycle(context.Background())
	assert.True(t, overlapping.Skipped)

	close(f.client.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Sent)
}
