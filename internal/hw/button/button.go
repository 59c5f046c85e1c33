// Package button watches the doorbell push button and turns falling edges
// into ring requests.
package button

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/GoBell/internal/debug"
	"github.com/cjeanneret/GoBell/internal/hw/gpio"
)

// Watcher listens for falling edges on the button line.
// The button is wired between the pin and ground with a pull-up, so a press
// pulls the line low.
type Watcher struct {
	driver   gpio.Driver
	pin      int
	debounce time.Duration

	mu   sync.Mutex
	port *gpio.Port
	last time.Time
	now  func() time.Time
}

// NewWatcher creates a watcher for pin. debounce 0 relies on the hardware
// edge trigger alone.
func NewWatcher(d gpio.Driver, pin int, debounce time.Duration) *Watcher {
	return &Watcher{
		driver:   d,
		pin:      pin,
		debounce: debounce,
		now:      time.Now,
	}
}

// Start opens the button line and registers onEdge for each press.
// It does not block; onEdge runs on the driver's watch goroutine and must
// only hand the event off. Errors wrap gpio.ErrIOUnavailable and mean the
// button will never fire.
func (w *Watcher) Start(onEdge func()) error {
	if onEdge == nil {
		return fmt.Errorf("%w: button pin %d: nil handler", gpio.ErrIOUnavailable, w.pin)
	}

	port, err := gpio.Open(w.driver, w.pin)
	if err != nil {
		return err
	}
	if err := port.SetDirection(gpio.Input); err != nil {
		port.Close()
		return err
	}
	if err := port.OnEdge(gpio.FallingEdge, func() { w.fire(onEdge) }); err != nil {
		port.Close()
		return err
	}

	w.mu.Lock()
	w.port = port
	w.mu.Unlock()

	debug.Verbose("Button: watching pin %d (falling edge, debounce %v)", w.pin, w.debounce)
	return nil
}

func (w *Watcher) fire(onEdge func()) {
	if w.debounce > 0 {
		w.mu.Lock()
		now := w.now()
		if !w.last.IsZero() && now.Sub(w.last) < w.debounce {
			w.mu.Unlock()
			debug.Trace("Button: edge on pin %d ignored (bounce)", w.pin)
			return
		}
		w.last = now
		w.mu.Unlock()
	}
	debug.Live("Button pressed (pin %d)", w.pin)
	onEdge()
}

// Stop unregisters the edge callback. Safe to call if Start failed.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	port := w.port
	w.port = nil
	w.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// Enabled reports whether the watcher is registered. A nil watcher is disabled.
func (w *Watcher) Enabled() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port != nil
}
