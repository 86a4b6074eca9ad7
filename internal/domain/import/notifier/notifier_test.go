package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/service"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	mu    sync.Mutex
	sent  []published
	calls int
	err   error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRoutingKey(t *testing.T) {
	e := service.Event{Kind: parser.KindBudget, Status: repository.JobStatusCanceled}
	assert.Equal(t, "import.budget.canceled", RoutingKey(e))
}

func TestNotifier_PublishesQueuedEvents(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "ledger.imports", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	id := uuid.New()
	n.OnEvent(ctx, service.Event{ImportID: id, Kind: parser.KindExpense, Status: repository.JobStatusProcessing, Total: 3, Processed: 1})
	n.OnEvent(ctx, service.Event{ImportID: id, Kind: parser.KindExpense, Status: repository.JobStatusSuccess, Total: 3, Processed: 3, Success: 3})

	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, time.Second, 10*time.Millisecond)

	msgs := pub.messages()
	assert.Equal(t, "ledger.imports", msgs[0].exchange)
	assert.Equal(t, "import.expense.processing", msgs[0].key)
	assert.Equal(t, "import.expense.success", msgs[1].key)
	assert.Equal(t, "application/json", msgs[1].msg.ContentType)
	assert.Equal(t, id.String(), msgs[1].msg.MessageId)

	var body ProgressMessage
	require.NoError(t, json.Unmarshal(msgs[1].msg.Body, &body))
	assert.Equal(t, id, body.ImportID)
	assert.Equal(t, 3, body.Success)
	assert.False(t, body.PublishedAt.IsZero())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNotifier_PublishErrorDoesNotStopRun(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	n := New(pub, "ledger.imports", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	n.OnEvent(ctx, service.Event{ImportID: uuid.New(), Kind: parser.KindExpense, Status: repository.JobStatusFailed})
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return pub.calls == 1
	}, time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	n.OnEvent(ctx, service.Event{ImportID: uuid.New(), Kind: parser.KindExpense, Status: repository.JobStatusSuccess})
	require.Eventually(t, func() bool { return len(pub.messages()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNotifier_OnEventNeverBlocks(t *testing.T) {
	n := New(&fakePublisher{}, "ledger.imports", testLogger())
	for i := 0; i < queueSize+10; i++ {
		n.OnEvent(context.Background(), service.Event{ImportID: uuid.New(), Status: repository.JobStatusProcessing})
	}
	assert.Len(t, n.queue, queueSize)
}
