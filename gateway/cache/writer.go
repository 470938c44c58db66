package cache

import (
	"context"
	"sync"
	"time"

	"github.com/famgallery/mediagate/gateway/cache/internal/metrics"
	"github.com/famgallery/mediagate/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize    = 128
	defaultWorkers      = 4
	defaultWriteTimeout = 10 * time.Second
)

type writeJob struct {
	ctx   context.Context
	key   string
	entry *Entry
}

// Writer stores entries in the background so that responses never wait on
// the cache. Writes are queued and executed by a fixed pool of workers; when
// the queue is full new writes are dropped.
type Writer struct {
	store   Store
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan writeJob
	group  errgroup.Group
}

// WriterOption customizes a Writer.
type WriterOption func(*writerOptions)

type writerOptions struct {
	queueSize int
	workers   int
	timeout   time.Duration
}

// WithQueueSize sets the number of writes that can be pending at once.
func WithQueueSize(n int) WriterOption {
	return func(o *writerOptions) {
		o.queueSize = n
	}
}

// WithWorkers sets the number of concurrent writes.
func WithWorkers(n int) WriterOption {
	return func(o *writerOptions) {
		o.workers = n
	}
}

// WithWriteTimeout bounds each individual write.
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(o *writerOptions) {
		o.timeout = d
	}
}

// NewWriter creates a Writer for store and starts its workers.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	o := &writerOptions{
		queueSize: defaultQueueSize,
		workers:   defaultWorkers,
		timeout:   defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	w := &Writer{
		store:   store,
		timeout: o.timeout,
		queue:   make(chan writeJob, o.queueSize),
	}
	for i := 0; i < o.workers; i++ {
		w.group.Go(w.work)
	}

	return w
}

// Submit queues entry to be stored under key and returns immediately. It
// reports whether the write was accepted. The request context only provides
// logging fields: its cancellation does not abort the write.
func (w *Writer) Submit(ctx context.Context, key string, entry *Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		metrics.Write(metrics.WriteDropped)
		return false
	}

	select {
	case w.queue <- writeJob{ctx: context.WithoutCancel(ctx), key: key, entry: entry}:
		return true
	default:
		metrics.Write(metrics.WriteDropped)
		log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{"cache_key": key}).
			Warn("cache write queue is full, dropping write")
		return false
	}
}

// Skip records that a response was not submitted for caching, for example
// because it was too large.
func (w *Writer) Skip(ctx context.Context, key, reason string) {
	metrics.Write(metrics.WriteSkipped)
	log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"cache_key": key,
		"reason":    reason,
	}).Debug("not caching response")
}

func (w *Writer) work() error {
	for job := range w.queue {
		w.write(job)
	}
	return nil
}

func (w *Writer) write(job writeJob) {
	ctx, cancel := context.WithTimeout(job.ctx, w.timeout)
	defer cancel()

	l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"cache_key": job.key,
		"size":      job.entry.Size(),
	})

	if err := w.store.Put(ctx, job.key, job.entry); err != nil {
		metrics.Write(metrics.WriteFailed)
		l.WithError(err).Warn("failed to store cache entry")
		return
	}

	metrics.EntryStored(job.entry.Size())
	l.Debug("stored cache entry")
}

// Close stops accepting writes and waits for queued writes to complete, or
// for ctx to be done. It is safe to call more than once.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- w.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
