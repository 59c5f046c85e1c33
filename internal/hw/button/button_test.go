package button

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/GoBell/internal/hw/gpio"
)

// failingDriver refuses every edge registration.
type failingDriver struct {
	*gpio.MockDriver
}

func (f failingDriver) WatchPin(pin int, edge gpio.Edge, handler func()) (func(), error) {
	return nil, errors.New("export failed")
}

func TestWatcher_EmitsOnFallingEdge(t *testing.T) {
	drv := gpio.NewMockDriver()
	w := NewWatcher(drv, 6, 0)

	var presses atomic.Int32
	if err := w.Start(func() { presses.Add(1) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if mode, ok := drv.Mode(6); !ok || mode != gpio.Input {
		t.Errorf("button pin mode = %v (%v), want input", mode, ok)
	}

	drv.SimulateEdge(6, gpio.RisingEdge)
	drv.SimulateEdge(6, gpio.FallingEdge)

	if got := presses.Load(); got != 1 {
		t.Errorf("presses = %d, want 1", got)
	}
	if !w.Enabled() {
		t.Error("watcher should be enabled after Start")
	}
}

func TestWatcher_NilDriverReportsIOUnavailable(t *testing.T) {
	w := NewWatcher(nil, 6, 0)
	err := w.Start(func() {})
	if !errors.Is(err, gpio.ErrIOUnavailable) {
		t.Fatalf("Start error = %v, want ErrIOUnavailable", err)
	}
	if w.Enabled() {
		t.Error("watcher should not be enabled after failed Start")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestWatcher_RegistrationFailure(t *testing.T) {
	drv := failingDriver{gpio.NewMockDriver()}
	w := NewWatcher(drv, 6, 0)
	if err := w.Start(func() {}); !errors.Is(err, gpio.ErrIOUnavailable) {
		t.Fatalf("Start error = %v, want ErrIOUnavailable", err)
	}
}

func TestWatcher_NilHandler(t *testing.T) {
	w := NewWatcher(gpio.NewMockDriver(), 6, 0)
	if err := w.Start(nil); !errors.Is(err, gpio.ErrIOUnavailable) {
		t.Fatalf("Start(nil) error = %v, want ErrIOUnavailable", err)
	}
}

func TestWatcher_SoftwareDebounce(t *testing.T) {
	drv := gpio.NewMockDriver()
	w := NewWatcher(drv, 6, 50*time.Millisecond)

	clock := time.Unix(1000, 0)
	w.now = func() time.Time { return clock }

	var presses atomic.Int32
	if err := w.Start(func() { presses.Add(1) }); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	drv.SimulateEdge(6, gpio.FallingEdge) // accepted
	clock = clock.Add(10 * time.Millisecond)
	drv.SimulateEdge(6, gpio.FallingEdge) // bounce
	clock = clock.Add(100 * time.Millisecond)
	drv.SimulateEdge(6, gpio.FallingEdge) // accepted

	if got := presses.Load(); got != 2 {
		t.Errorf("presses = %d, want 2", got)
	}
}

func TestWatcher_StopUnregisters(t *testing.T) {
	drv := gpio.NewMockDriver()
	w := NewWatcher(drv, 6, 0)
	if err := w.Start(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if n := drv.Watchers(6); n != 0 {
		t.Errorf("watchers after Stop = %d, want 0", n)
	}
	if w.Enabled() {
		t.Error("watcher should be disabled after Stop")
	}
}
