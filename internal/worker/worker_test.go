package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/cache"
	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/consumer"
	"github.com/marminbh/popup-pos/internal/directory"
	"github.com/marminbh/popup-pos/internal/loyalty"
	"github.com/marminbh/popup-pos/internal/models"
	"github.com/marminbh/popup-pos/internal/repositories"
)

type fakeBroker struct {
	mu        sync.Mutex
	declared  []string
	prefetch  int
	consumes  int
	cancelled []string
	published []amqp.Publishing
	channels  []chan amqp.Delivery
}

func (b *fakeBroker) DeclareQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, name)
	return nil
}

func (b *fakeBroker) SetQoS(prefetchCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefetch = prefetchCount
	return nil
}

func (b *fakeBroker) ConsumeMessages(string, string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumes++
	ch := make(chan amqp.Delivery, 1)
	b.channels = append(b.channels, ch)
	return ch, nil
}

func (b *fakeBroker) CancelConsumer(tag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, tag)
	return nil
}

func (b *fakeBroker) PublishMessage(_ context.Context, _, _ string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) IsHealthy() bool { return true }

func (b *fakeBroker) channel(i int) chan amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[i]
}

func (b *fakeBroker) consumeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumes
}

// settlement reports how the worker settled a delivery
type settlement struct {
	acked    bool
	requeued bool
}

type fakeAcknowledger struct {
	settled chan settlement
}

func newAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan settlement, 1)}
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.settled <- settlement{acked: true}
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.settled <- settlement{requeued: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func (a *fakeAcknowledger) wait(t *testing.T) settlement {
	t.Helper()
	select {
	case s := <-a.settled:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not settled")
		return settlement{}
	}
}

type unavailableDirectory struct {
	*directory.MemoryDirectory
}

func (unavailableDirectory) FindByEmail(context.Context, string) (*models.CustomerRecord, error) {
	return nil, &directory.APIError{Method: "GET", URL: "customers", StatusCode: 503}
}

type failingAttempts struct{}

func (failingAttempts) Record(context.Context, *models.SyncAttemptLog) error {
	return errors.New("database down")
}

func (failingAttempts) List(context.Context, repositories.AttemptFilter) ([]models.SyncAttemptLog, bool, error) {
	return nil, false, nil
}

func testConfig() *config.Config {
	return &config.Config{
		RabbitMQ: config.RabbitMQConfig{
			Queue:           "payment",
			DeadLetterQueue: "payment.dead-letter",
			PrefetchCount:   1,
		},
		Consumer: config.ConsumerConfig{MaxDeliveryAttempts: 3},
	}
}

func newTestWorker(dir loyalty.Directory, broker *fakeBroker, attempts repositories.SyncAttemptRepository) *Worker {
	syncer := loyalty.NewSyncer(dir, nil, zap.NewNop())
	return NewWorker(testConfig(), broker, syncer, cache.NewMemoryRetryCounter(), attempts, zap.NewNop())
}

func loyaltyDelivery(ack *fakeAcknowledger, messageID, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    messageID,
		Body:         []byte(body),
	}
}

func TestWorker_SyncsNewCustomerEndToEnd(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	broker := &fakeBroker{}
	attempts := repositories.NewMemorySyncAttemptRepository()
	w := newTestWorker(dir, broker, attempts)

	require.NoError(t, w.Start())
	assert.Equal(t, []string{"payment", "payment.dead-letter"}, broker.declared)
	assert.Equal(t, 1, broker.prefetch)

	ack := newAcknowledger()
	broker.channel(0) <- loyaltyDelivery(ack, "msg-1", `{"event":"customer_update","email":"a@b.com","unikko_points":100}`)
	assert.True(t, ack.wait(t).acked)

	require.NoError(t, w.Stop())
	assert.Len(t, broker.cancelled, 1)

	customers := dir.Customers()
	require.Len(t, customers, 1)
	assert.Equal(t, "a@b.com", customers[0].Email)
	assert.Equal(t, 100, customers[0].TotalPoints)
	assert.Equal(t, "Level 1", customers[0].LoyaltyTier)

	logged := attempts.All()
	require.Len(t, logged, 1)
	assert.Equal(t, models.SyncStatusSucceeded, logged[0].Status)
	assert.Equal(t, 1, logged[0].AttemptNo)
	require.NotNil(t, logged[0].TotalPoints)
	assert.Equal(t, 100, *logged[0].TotalPoints)
}

func TestWorker_RequeuesThenDeadLettersDirectoryFailures(t *testing.T) {
	broker := &fakeBroker{}
	attempts := repositories.NewMemorySyncAttemptRepository()
	w := newTestWorker(unavailableDirectory{directory.NewMemoryDirectory()}, broker, attempts)
	body := `{"event":"customer_update","email":"a@b.com","unikko_points":10}`

	for i := 0; i < 2; i++ {
		ack := newAcknowledger()
		w.handleDelivery(loyaltyDelivery(ack, "msg-1", body))
		assert.True(t, ack.wait(t).requeued)
	}

	ack := newAcknowledger()
	w.handleDelivery(loyaltyDelivery(ack, "msg-1", body))
	assert.True(t, ack.wait(t).acked, "dead-lettered message leaves the queue")

	require.Len(t, broker.published, 1)
	var letter models.DeadLetter
	require.NoError(t, json.Unmarshal(broker.published[0].Body, &letter))
	assert.Equal(t, models.FailureTypeExhausted, letter.FailureType)
	assert.Equal(t, 3, letter.Attempts)

	// One row per delivery
	logged := attempts.All()
	require.Len(t, logged, 3)
	for i := 0; i < 2; i++ {
		assert.Equal(t, models.SyncStatusFailed, logged[i].Status)
		assert.Equal(t, i+1, logged[i].AttemptNo)
	}
	assert.Equal(t, models.SyncStatusDeadLettered, logged[2].Status)
	assert.Equal(t, 3, logged[2].AttemptNo)
	assert.Equal(t, "a@b.com", logged[2].Email)
	require.NotNil(t, logged[2].Error)
	assert.Contains(t, *logged[2].Error, "HTTP 503")
}

func TestWorker_DeadLettersMalformedPayloadImmediately(t *testing.T) {
	broker := &fakeBroker{}
	attempts := repositories.NewMemorySyncAttemptRepository()
	w := newTestWorker(directory.NewMemoryDirectory(), broker, attempts)

	ack := newAcknowledger()
	w.handleDelivery(loyaltyDelivery(ack, "msg-1", `{"email":`))
	assert.True(t, ack.wait(t).acked)

	require.Len(t, broker.published, 1)
	assert.Equal(t, models.FailureTypeMalformed, broker.published[0].Headers["x-failure-type"])

	logged := attempts.All()
	require.Len(t, logged, 1)
	assert.Equal(t, models.SyncStatusDeadLettered, logged[0].Status)
}

// negativeTotalDirectory stores a total the tier resolver rejects
type negativeTotalDirectory struct {
	*directory.MemoryDirectory
}

func (d negativeTotalDirectory) Get(ctx context.Context, id string) (*models.CustomerRecord, error) {
	customer, err := d.MemoryDirectory.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	customer.TotalPoints = -1000
	return customer, nil
}

func TestWorker_RejectedSyncIsLoggedOnce(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	_, err := dir.Create(context.Background(), "a@b.com", 0, "No level")
	require.NoError(t, err)

	broker := &fakeBroker{}
	attempts := repositories.NewMemorySyncAttemptRepository()
	w := newTestWorker(negativeTotalDirectory{dir}, broker, attempts)

	ack := newAcknowledger()
	w.handleDelivery(loyaltyDelivery(ack, "msg-1", `{"event":"customer_update","email":"a@b.com","unikko_points":10}`))
	assert.True(t, ack.wait(t).acked)
	require.Len(t, broker.published, 1)

	logged := attempts.All()
	require.Len(t, logged, 1)
	assert.Equal(t, models.SyncStatusDeadLettered, logged[0].Status)
	assert.Equal(t, 1, logged[0].AttemptNo)
}

// blockingDirectory holds FindByEmail until released and reports the
// context state it saw afterwards
type blockingDirectory struct {
	*directory.MemoryDirectory
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (d *blockingDirectory) FindByEmail(ctx context.Context, email string) (*models.CustomerRecord, error) {
	close(d.started)
	<-d.release
	d.ctxErr <- ctx.Err()
	return d.MemoryDirectory.FindByEmail(ctx, email)
}

func TestWorker_StopLetsInFlightSyncFinish(t *testing.T) {
	dir := &blockingDirectory{
		MemoryDirectory: directory.NewMemoryDirectory(),
		started:         make(chan struct{}),
		release:         make(chan struct{}),
		ctxErr:          make(chan error, 1),
	}
	broker := &fakeBroker{}
	w := newTestWorker(dir, broker, nil)
	require.NoError(t, w.Start())

	ack := newAcknowledger()
	broker.channel(0) <- loyaltyDelivery(ack, "msg-1", `{"event":"customer_update","email":"a@b.com","unikko_points":5}`)
	<-dir.started

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()
	assert.Eventually(t, func() bool { return w.ctx.Err() != nil }, time.Second, 5*time.Millisecond)

	close(dir.release)
	require.NoError(t, <-stopped)
	assert.NoError(t, <-dir.ctxErr)
	assert.True(t, ack.wait(t).acked)
	assert.Len(t, dir.Customers(), 1)
}

func TestWorker_HandleEventClassifiesInvalidEvents(t *testing.T) {
	w := newTestWorker(directory.NewMemoryDirectory(), &fakeBroker{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json`},
		{"missing email", `{"event":"customer_update","unikko_points":5}`},
		{"negative points", `{"event":"customer_update","email":"a@b.com","unikko_points":-5}`},
		{"unknown event", `{"event":"customer_deleted","email":"a@b.com","unikko_points":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.HandleEvent(ctx, "msg-1", []byte(tt.body))
			assert.ErrorIs(t, err, consumer.ErrPoisonMessage)
		})
	}
}

func TestWorker_AuditFailureDoesNotBlockAck(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	w := newTestWorker(dir, &fakeBroker{}, failingAttempts{})

	ack := newAcknowledger()
	w.handleDelivery(loyaltyDelivery(ack, "msg-1", `{"event":"customer_update","email":"a@b.com","unikko_points":7}`))
	assert.True(t, ack.wait(t).acked)
	assert.Len(t, dir.Customers(), 1)
}

func TestWorker_RestartsConsumerWhenChannelCloses(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWorker(directory.NewMemoryDirectory(), broker, nil)
	w.restartDelay = 10 * time.Millisecond

	require.NoError(t, w.Start())
	close(broker.channel(0))

	assert.Eventually(t, func() bool { return broker.consumeCount() == 2 }, time.Second, 10*time.Millisecond)

	ack := newAcknowledger()
	broker.channel(1) <- loyaltyDelivery(ack, "msg-2", `{"event":"customer_update","email":"b@b.com","unikko_points":1}`)
	assert.True(t, ack.wait(t).acked)

	require.NoError(t, w.Stop())
}
