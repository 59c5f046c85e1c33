package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/GoBell/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// edgePollInterval is how often the go-rpio driver checks the edge event
// register. go-rpio has no interrupt delivery, only a latched flag.
const edgePollInterval = 5 * time.Millisecond

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	mu    sync.Mutex
	pins  map[int]rpio.Pin
	stops []func()
	wg    sync.WaitGroup
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("%w: failed to open GPIO: %v (are you running on a Raspberry Pi?)", ErrIOUnavailable, err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)

	switch mode {
	case Input:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.mu.Lock()
	r.pins[pin] = p
	r.mu.Unlock()
	return nil
}

func (r *RPiDriver) pin(pin int, mode PinMode) (rpio.Pin, error) {
	r.mu.Lock()
	p, ok := r.pins[pin]
	r.mu.Unlock()
	if ok {
		return p, nil
	}
	// Pin not setup yet, setup with the mode implied by the caller
	if err := r.SetupPin(pin, mode); err != nil {
		return 0, err
	}
	return rpio.Pin(pin), nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, err := r.pin(pin, Output)
	if err != nil {
		return err
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, err := r.pin(pin, Input)
	if err != nil {
		return Low, err
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func toRPiEdge(e Edge) (rpio.Edge, error) {
	switch e {
	case RisingEdge:
		return rpio.RiseEdge, nil
	case FallingEdge:
		return rpio.FallEdge, nil
	case BothEdges:
		return rpio.AnyEdge, nil
	default:
		return rpio.NoEdge, fmt.Errorf("%w: unsupported edge %v", ErrIOUnavailable, e)
	}
}

// WatchPin enables hardware edge detection on pin and polls the latched
// event flag from a dedicated goroutine.
func (r *RPiDriver) WatchPin(pin int, edge Edge, handler func()) (func(), error) {
	debug.GPIO("WatchPin", pin, edge)

	re, err := toRPiEdge(edge)
	if err != nil {
		return nil, err
	}
	p, err := r.pin(pin, Input)
	if err != nil {
		return nil, err
	}
	p.Detect(re)

	done := make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(edgePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if p.EdgeDetected() {
					debug.GPIO("Edge", pin, edge)
					handler()
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			p.Detect(rpio.NoEdge)
		})
	}
	r.mu.Lock()
	r.stops = append(r.stops, stop)
	r.mu.Unlock()
	return stop, nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	r.mu.Lock()
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Detect(rpio.NoEdge)
		p.Input()
	}

	return rpio.Close()
}
