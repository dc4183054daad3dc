package badgerqueue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *testClock) {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := New(db, &Config{Name: "timestamp", VisibilityTimeout: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q.now = clock.Now
	return q, clock
}

func TestNew_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(nil, &Config{Name: "q"}, logger)
	assert.Error(t, err)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, &Config{}, logger)
	assert.Error(t, err)

	q, err := New(db, &Config{Name: "q"}, logger)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, q.visibilityTimeout)
	assert.Equal(t, "q", q.Name())
}

func TestQueue_ReceiveEmpty(t *testing.T) {
	q, _ := newTestQueue(t)

	msg, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
	assert.Nil(t, msg)
}

func TestQueue_FIFO(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	for _, body := range []string{"1", "2", "3"} {
		_, err := q.Enqueue(ctx, body)
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	for _, want := range []string{"1", "2", "3"} {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Body)
		assert.Equal(t, 1, msg.ReceiveCount)
	}

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "42")
	require.NoError(t, err)

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, first.ID)
	assert.Equal(t, 1, first.ReceiveCount)

	// Hidden while the first delivery is in flight
	clock.Advance(30 * time.Second)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	clock.Advance(31 * time.Second)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, 2, second.ReceiveCount)
	assert.NotEqual(t, first.Receipt(), second.Receipt())

	// The stale receipt can no longer delete the message
	err = q.Delete(ctx, id, first.Receipt())
	assert.ErrorIs(t, err, ErrReceiptMismatch)

	require.NoError(t, q.Delete(ctx, id, second.Receipt()))

	clock.Advance(2 * time.Minute)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_DeleteIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "7")
	require.NoError(t, err)
	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, msg.ID, msg.Receipt()))
	require.NoError(t, q.Delete(ctx, msg.ID, msg.Receipt()))
}

func TestQueue_Release(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "42")
	require.NoError(t, err)

	first, err := q.Receive(ctx)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, q.Release(ctx, id, first.Receipt()))

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, 2, second.ReceiveCount)

	err = q.Release(ctx, id, first.Receipt())
	assert.ErrorIs(t, err, ErrReceiptMismatch)

	require.NoError(t, q.Delete(ctx, id, second.Receipt()))
	assert.Error(t, q.Release(ctx, id, second.Receipt()))
}

func TestQueue_Len(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "1")
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	// In-flight messages still count
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, q.Delete(ctx, msg.ID, msg.Receipt()))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueue_ReceiveDropsMalformedIndexKeys(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "42")
	require.NoError(t, err)

	// Sorts ahead of every well-formed key and cannot be parsed
	garbage := append(q.indexPrefix(), '0')
	require.NoError(t, q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(garbage, []byte{})
	}))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, q.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(garbage)
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
		return nil
	}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_CanceledContext(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Enqueue(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, q.Delete(ctx, "id", "r"), context.Canceled)
}

func TestParseIndexKey(t *testing.T) {
	q, _ := newTestQueue(t)
	at := time.Unix(0, 1700000000123456789)

	ts, id, err := q.parseIndexKey(q.indexKey(at, "abc"))
	require.NoError(t, err)
	assert.True(t, at.Equal(ts))
	assert.Equal(t, "abc", id)

	_, _, err = q.parseIndexKey([]byte("queue:timestamp:index:short"))
	assert.Error(t, err)
}
