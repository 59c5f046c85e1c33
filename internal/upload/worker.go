package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cjeanneret/GoBell/internal/debug"
)

// WorkerConfig tunes the upload worker.
type WorkerConfig struct {
	Path           string
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // per attempt
}

// Defaults applied by NewWorker for zero fields.
const (
	DefaultQueueSize      = 4
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultPushTimeout    = 10 * time.Second
)

// Result reports the outcome of one queued upload.
type Result struct {
	Key      string
	Err      error
	Attempts int
	Size     int
}

// WorkerStats is a snapshot of worker counters.
type WorkerStats struct {
	Pushed  int64 `json:"pushed"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

// Worker drains queued entries into a Sink on its own goroutine.
type Worker struct {
	sink  Sink
	cfg   WorkerConfig
	queue chan string

	mu       sync.Mutex
	onResult func(Result)

	pushed  atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewWorker creates a worker for sink. Zero config fields take defaults.
func NewWorker(sink Sink, cfg WorkerConfig) *Worker {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPushTimeout
	}
	return &Worker{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan string, cfg.QueueSize),
	}
}

// OnResult registers a callback invoked on the worker goroutine after
// each upload completes or gives up.
func (w *Worker) OnResult(fn func(Result)) {
	w.mu.Lock()
	w.onResult = fn
	w.mu.Unlock()
}

// Push queues an encoded image without blocking. It returns false when
// the queue is full; the entry is dropped and reported as a failure.
func (w *Worker) Push(encoded string) bool {
	select {
	case w.queue <- encoded:
		return true
	default:
		w.dropped.Add(1)
		err := fmt.Errorf("%w: queue full (%d pending)", ErrUploadFailed, len(w.queue))
		debug.Errorf("upload", err)
		w.report(Result{Err: err, Size: len(encoded)})
		return false
	}
}

// Run processes the queue until ctx is cancelled. Entries still queued at
// cancellation are discarded.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case encoded := <-w.queue:
			w.report(w.upload(ctx, encoded))
		}
	}
}

func (w *Worker) upload(ctx context.Context, encoded string) Result {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff

	attempts := 0
	entry := LogEntry{Image: encoded}
	key, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		pushCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
		key, err := w.sink.Push(pushCtx, w.cfg.Path, entry)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return key, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			debug.Verbose("upload attempt %d failed: %v (retry in %s)", attempts, err, next)
		}),
	)

	res := Result{Key: key, Attempts: attempts, Size: len(encoded)}
	if err != nil {
		res.Err = fmt.Errorf("%w after %d attempt(s): %w", ErrUploadFailed, attempts, err)
		w.failed.Add(1)
		debug.Errorf("upload", res.Err)
		return res
	}
	w.pushed.Add(1)
	debug.Upload(w.cfg.Path, key, len(encoded))
	return res
}

func (w *Worker) report(r Result) {
	w.mu.Lock()
	fn := w.onResult
	w.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// Stats returns the current counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Pushed:  w.pushed.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
		Pending: len(w.queue),
	}
}
