// Package badgerqueue is a persistent at-least-once queue stored in Badger.
// A received message stays invisible for the visibility timeout and becomes
// visible again, with a higher receive count, unless it is deleted first.
package badgerqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	// ErrNoMessage is returned when no message is visible
	ErrNoMessage = errors.New("no messages in queue")

	// ErrReceiptMismatch is returned when deleting with a stale receipt
	ErrReceiptMismatch = errors.New("message receipt does not match")
)

// Config holds queue configuration
type Config struct {
	Name              string
	VisibilityTimeout time.Duration
}

// Message is one delivery of a queued message
type Message struct {
	ID           string    `json:"id"`
	Body         string    `json:"body"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// Receipt identifies this delivery; it changes every time the message is received
func (m *Message) Receipt() string {
	return strconv.FormatInt(m.VisibleAt.UnixNano(), 10)
}

// Queue implements a visibility-timeout queue on Badger
type Queue struct {
	db                *badger.DB
	name              string
	visibilityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// New creates a queue handle. Queues need no explicit creation.
func New(db *badger.DB, config *Config, logger *slog.Logger) (*Queue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.Name == "" {
		return nil, errors.New("queue name is required")
	}

	visibilityTimeout := config.VisibilityTimeout
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}

	return &Queue{
		db:                db,
		name:              config.Name,
		visibilityTimeout: visibilityTimeout,
		logger:            logger,
		now:               time.Now,
	}, nil
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Enqueue adds a message that is visible immediately
func (q *Queue) Enqueue(ctx context.Context, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := q.now()
	msg := Message{
		ID:         uuid.New().String(),
		Body:       body,
		EnqueuedAt: now,
		VisibleAt:  now,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(msg.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	q.logger.Debug("Message enqueued",
		slog.String("queue", q.name),
		slog.String("message_id", msg.ID),
	)

	return msg.ID, nil
}

// Receive claims the oldest visible message, hiding it for the visibility timeout
func (q *Queue) Receive(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msg Message
	found := false
	err := q.db.Update(func(txn *badger.Txn) error {
		now := q.now()

		indexKey, stale, err := q.nextVisible(txn, now, &msg)
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if indexKey == nil {
			return nil
		}

		found = true
		msg.ReceiveCount++
		msg.VisibleAt = now.Add(q.visibilityTimeout)

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msg.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(indexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	if !found {
		return nil, ErrNoMessage
	}

	return &msg, nil
}

// Delete removes a received message. The receipt must come from the latest delivery.
func (q *Queue) Delete(ctx context.Context, id, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		var current Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if current.Receipt() != receipt {
			return ErrReceiptMismatch
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(q.msgKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}

	return nil
}

// Release makes a received message visible again immediately. Its receive
// count is kept, so the next delivery counts as a redelivery.
func (q *Queue) Release(ctx context.Context, id, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			return err
		}

		var current Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if current.Receipt() != receipt {
			return ErrReceiptMismatch
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, id)); err != nil {
			return err
		}

		current.VisibleAt = q.now()
		data, err := json.Marshal(current)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(current.VisibleAt, id), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to release message %s: %w", id, err)
	}

	return nil
}

// Len returns the number of stored messages, visible or not
func (q *Queue) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := q.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}

// nextVisible finds the oldest visible message and decodes it into msg. It
// also returns index keys that are malformed or whose message no longer exists.
func (q *Queue) nextVisible(txn *badger.Txn, now time.Time, msg *Message) ([]byte, [][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := q.indexPrefix()
	it := txn.NewIterator(opts)
	defer it.Close()

	var stale [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)

		visibleAt, id, err := q.parseIndexKey(key)
		if err != nil {
			q.logger.Warn("Dropping malformed queue index key",
				slog.String("queue", q.name),
				slog.String("key", string(key)),
			)
			stale = append(stale, key)
			continue
		}

		// Index keys sort by visibility time, nothing later is ready either
		if visibleAt.After(now) {
			break
		}

		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				stale = append(stale, key)
				continue
			}
			return nil, nil, err
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, msg)
		}); err != nil {
			return nil, nil, err
		}

		return key, stale, nil
	}

	return nil, stale, nil
}

func (q *Queue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

func (q *Queue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.name))
}

// indexKey zero-pads the timestamp so lexical order matches time order
func (q *Queue) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, visibleAt.UnixNano(), id))
}

func (q *Queue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := q.indexPrefix()
	if len(key) <= len(prefix)+21 {
		return time.Time{}, "", fmt.Errorf("invalid index key %q", key)
	}

	suffix := string(key[len(prefix):])
	ts, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
