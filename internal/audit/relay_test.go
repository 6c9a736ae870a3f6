package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
)

type MockPendingStore struct {
	mock.Mock
}

func (m *MockPendingStore) FetchPending(ctx context.Context, limit int) ([]audit.Event, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]audit.Event), args.Error(1)
}

func (m *MockPendingStore) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	args := m.Called(ctx, ids, at)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, e audit.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func newEvent(t *testing.T, typ audit.EventType, entityID string) audit.Event {
	t.Helper()
	e, err := audit.NewEvent(typ, audit.EntityOrder, entityID, time.Now(), map[string]string{"code": entityID})
	require.NoError(t, err)
	return e
}

func TestRelay_Flush_PublishesAndMarks(t *testing.T) {
	store := new(MockPendingStore)
	pub := new(MockPublisher)

	e1 := newEvent(t, audit.EventOrderCreated, "ORD-1")
	e2 := newEvent(t, audit.EventOrderPaid, "ORD-1")

	store.On("FetchPending", mock.Anything, 10).Return([]audit.Event{e1, e2}, nil).Once()
	pub.On("Publish", mock.Anything, e1).Return(nil).Once()
	pub.On("Publish", mock.Anything, e2).Return(nil).Once()
	store.On("MarkPublished", mock.Anything, []uuid.UUID{e1.ID, e2.ID}, mock.AnythingOfType("time.Time")).Return(nil).Once()

	relay := audit.NewRelay(store, pub, time.Second, 10)
	n, err := relay.Flush(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestRelay_Flush_StopsAtFirstFailure(t *testing.T) {
	store := new(MockPendingStore)
	pub := new(MockPublisher)

	e1 := newEvent(t, audit.EventOrderCreated, "ORD-1")
	e2 := newEvent(t, audit.EventPaymentRegistered, "ORD-1")
	e3 := newEvent(t, audit.EventOrderPaid, "ORD-1")
	brokerDown := errors.New("broker down")

	store.On("FetchPending", mock.Anything, 100).Return([]audit.Event{e1, e2, e3}, nil).Once()
	pub.On("Publish", mock.Anything, e1).Return(nil).Once()
	pub.On("Publish", mock.Anything, e2).Return(brokerDown).Once()
	store.On("MarkPublished", mock.Anything, []uuid.UUID{e1.ID}, mock.AnythingOfType("time.Time")).Return(nil).Once()

	relay := audit.NewRelay(store, pub, time.Second, 0)
	n, err := relay.Flush(context.Background())

	require.ErrorIs(t, err, brokerDown)
	assert.Equal(t, 1, n)
	pub.AssertNotCalled(t, "Publish", mock.Anything, e3)
	store.AssertExpectations(t)
}

func TestRelay_Flush_FetchError(t *testing.T) {
	store := new(MockPendingStore)
	pub := new(MockPublisher)
	fetchErr := errors.New("db gone")

	store.On("FetchPending", mock.Anything, 5).Return(nil, fetchErr).Once()

	relay := audit.NewRelay(store, pub, time.Second, 5)
	n, err := relay.Flush(context.Background())

	require.ErrorIs(t, err, fetchErr)
	assert.Zero(t, n)
	store.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_Run_StopsOnCancel(t *testing.T) {
	store := new(MockPendingStore)
	pub := new(MockPublisher)

	store.On("FetchPending", mock.Anything, 100).Return([]audit.Event{}, nil).Maybe()
	store.On("MarkPublished", mock.Anything, []uuid.UUID{}, mock.Anything).Return(nil).Maybe()

	relay := audit.NewRelay(store, pub, 5*time.Millisecond, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "ledger.events.order_paid", audit.Subject("ledger.events", audit.EventOrderPaid))
}
