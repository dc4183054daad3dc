package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
)

// journal records the order of side effects across fakes
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type receiveResult struct {
	msg *domain.QueuedMessage
	err error
}

type fakeQueue struct {
	journal   *journal
	results   []receiveResult
	deleteErr error
	deleted   []string
	released  []string
}

func (q *fakeQueue) Receive(ctx context.Context) (*domain.QueuedMessage, error) {
	q.journal.add("receive")
	if len(q.results) == 0 {
		return nil, domain.ErrNoMessage
	}
	r := q.results[0]
	q.results = q.results[1:]
	return r.msg, r.err
}

func (q *fakeQueue) Delete(ctx context.Context, msg *domain.QueuedMessage) error {
	q.journal.add("delete %s", msg.ID)
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.deleted = append(q.deleted, msg.ID)
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, msg *domain.QueuedMessage) error {
	q.journal.add("release %s", msg.ID)
	q.released = append(q.released, msg.ID)
	return nil
}

type fakeAds struct {
	journal *journal
	ads     map[int64]domain.Ad
	findErr error
	saveErr error
	finds   int
	saves   int
}

func (s *fakeAds) FindByID(ctx context.Context, id int64) (*domain.Ad, error) {
	s.finds++
	s.journal.add("find %d", id)
	if s.findErr != nil {
		return nil, s.findErr
	}
	ad, ok := s.ads[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrAdNotFound, id)
	}
	return &ad, nil
}

func (s *fakeAds) Save(ctx context.Context, ad *domain.Ad) error {
	s.saves++
	s.journal.add("save %d", ad.ID)
	if s.saveErr != nil {
		return s.saveErr
	}
	s.ads[ad.ID] = *ad
	return nil
}

type fakeBlob struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type fakeBlobs struct {
	journal   *journal
	blobs     map[domain.BlobRef]fakeBlob
	opened    int
	readers   []*fakeReader
	writers   []*fakeWriter
	commitErr error
	metaErr   error
}

func (s *fakeBlobs) OpenReader(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	s.opened++
	blob, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, ref)
	}
	r := &fakeReader{Reader: bytes.NewReader(blob.data)}
	s.readers = append(s.readers, r)
	return r, nil
}

func (s *fakeBlobs) OpenWriter(ctx context.Context, ref domain.BlobRef, contentType string) (domain.BlobWriter, error) {
	s.opened++
	w := &fakeWriter{store: s, ref: ref, contentType: contentType}
	s.writers = append(s.writers, w)
	return w, nil
}

func (s *fakeBlobs) Metadata(ctx context.Context, ref domain.BlobRef) (map[string]string, error) {
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	blob, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, ref)
	}
	return blob.metadata, nil
}

func (s *fakeBlobs) URL(ref domain.BlobRef) string {
	return "http://blobs.test/" + ref.Container + "/" + ref.Name
}

type fakeReader struct {
	*bytes.Reader
	closed bool
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	store       *fakeBlobs
	ref         domain.BlobRef
	contentType string
	metadata    map[string]string
	buf         bytes.Buffer
	committed   bool
	closed      bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *fakeWriter) SetMetadata(key, value string) {
	if w.metadata == nil {
		w.metadata = make(map[string]string)
	}
	w.metadata[key] = value
}

func (w *fakeWriter) Commit() error {
	if w.store.commitErr != nil {
		return w.store.commitErr
	}
	w.committed = true
	w.store.blobs[w.ref] = fakeBlob{
		data:        append([]byte(nil), w.buf.Bytes()...),
		contentType: w.contentType,
		metadata:    w.metadata,
	}
	w.store.journal.add("commit %s", w.ref)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// stampTransform marks its output with the bytes it read, so repeated runs
// over the same source produce the same output
func stampTransform(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "stamped(%s)", data)
	return err
}

var errStorageDown = errors.New("storage unavailable")

type fixture struct {
	journal *journal
	queue   *fakeQueue
	ads     *fakeAds
	blobs   *fakeBlobs
}

func newFixture() *fixture {
	j := &journal{}
	return &fixture{
		journal: j,
		queue:   &fakeQueue{journal: j},
		ads: &fakeAds{
			journal: j,
			ads: map[int64]domain.Ad{
				42: {ID: 42, Title: "Bike", ImageURL: "http://blobs.test/images/bike.png"},
			},
		},
		blobs: &fakeBlobs{
			journal: j,
			blobs: map[domain.BlobRef]fakeBlob{
				{Container: "images", Name: "bike.png"}: {data: []byte("bike-pixels"), contentType: "image/png"},
			},
		},
	}
}

func (f *fixture) processor(transform Transform) *Processor {
	return NewProcessor(f.queue, f.ads, f.blobs, transform, "images", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// worker builds a Worker whose sleeps are journaled and which stops after maxSleeps
func (f *fixture) worker(transform Transform, maxSleeps int, cancel context.CancelFunc) *Worker {
	w := NewWorker(&Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:           f.queue,
		Ads:             f.ads,
		Blobs:           f.blobs,
		Transform:       transform,
		Container:       "images",
		IdleInterval:    time.Second,
		ErrorBackoff:    5 * time.Second,
		PoisonThreshold: 5,
		ReceiveTimeout:  time.Second,
		JobTimeout:      time.Minute,
	})

	sleeps := 0
	w.sleep = func(ctx context.Context, d time.Duration) error {
		f.journal.add("sleep %s", d)
		sleeps++
		if sleeps >= maxSleeps {
			cancel()
			return context.Canceled
		}
		return nil
	}
	return w
}

func message(id, body string, deliveryCount int) *domain.QueuedMessage {
	return &domain.QueuedMessage{ID: id, Body: body, Receipt: "r-" + id, DeliveryCount: deliveryCount}
}
