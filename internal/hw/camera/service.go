package camera

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/GoBell/internal/debug"
)

// DefaultTimeout bounds a single capture when no timeout is configured.
const DefaultTimeout = 10 * time.Second

type request struct {
	onReady func([]byte)
	onError func(error)
}

// Service owns the camera worker goroutine. Requests are accepted from any
// goroutine and results are delivered through callbacks from the worker, so
// hardware latency never blocks the caller.
type Service struct {
	cam      Camera
	timeout  time.Duration
	requests chan request
	busy     atomic.Bool
	taken    atomic.Uint64
	failed   atomic.Uint64
}

// NewService wraps cam. timeout <= 0 uses DefaultTimeout.
func NewService(cam Camera, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		cam:      cam,
		timeout:  timeout,
		requests: make(chan request, 1),
	}
}

// TakePicture requests one frame. Exactly one of onReady or onError is
// called. A request made while another is outstanding fails with ErrBusy.
func (s *Service) TakePicture(onReady func([]byte), onError func(error)) {
	if !s.busy.CompareAndSwap(false, true) {
		onError(fmt.Errorf("%w: %w", ErrCaptureFailed, ErrBusy))
		return
	}
	s.requests <- request{onReady: onReady, onError: onError}
}

// Run processes picture requests until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	debug.Verbose("Camera worker started (timeout %v)", s.timeout)
	for {
		select {
		case <-ctx.Done():
			debug.Verbose("Camera worker stopped")
			return ctx.Err()
		case req := <-s.requests:
			s.capture(ctx, req)
		}
	}
}

func (s *Service) capture(ctx context.Context, req request) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	data, err := s.cam.Capture(cctx)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	cancel()

	if err == nil && len(data) == 0 {
		err = errEmptyFrame
	}
	s.busy.Store(false)

	if err != nil {
		s.failed.Add(1)
		req.onError(fmt.Errorf("%w: %w", ErrCaptureFailed, err))
		return
	}
	s.taken.Add(1)
	debug.Verbose("Camera: %d bytes in %v", len(data), time.Since(start).Round(time.Millisecond))
	req.onReady(data)
}

// Stats returns how many pictures were taken and how many failed.
func (s *Service) Stats() (taken, failed uint64) {
	return s.taken.Load(), s.failed.Load()
}

// Close releases the underlying camera.
func (s *Service) Close() error {
	return s.cam.Close()
}
