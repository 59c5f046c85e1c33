package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/GoBell/internal/debug"
)

// ErrIOUnavailable is returned when a GPIO line cannot be opened, configured
// or watched. It is fatal to that peripheral only.
var ErrIOUnavailable = errors.New("gpio: io unavailable")

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "in"
	case Output:
		return "out"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Edge selects which signal transitions raise a watch callback.
type Edge int

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

func (e Edge) String() string {
	switch e {
	case NoEdge:
		return "none"
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	case BothEdges:
		return "both"
	default:
		return fmt.Sprintf("edge(%d)", int(e))
	}
}

// Driver names accepted by NewDriver.
const (
	DriverMock   = "mock"
	DriverRPi    = "rpio"
	DriverPeriph = "periph"
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
//
// WatchPin handlers are invoked from a driver-owned goroutine; they must
// return quickly and never assume they own the calling thread.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	WatchPin(pin int, edge Edge, handler func()) (stop func(), err error)
	Close() error
}

// NewDriver creates a GPIO driver by name.
// "mock" returns a MockDriver (for dev/test), "rpio" the go-rpio driver and
// "periph" the periph.io driver. An empty name selects the mock.
func NewDriver(name string) (Driver, error) {
	switch name {
	case "", DriverMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case DriverRPi:
		d, err := NewRPiRealDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	case DriverPeriph:
		d, err := NewPeriphDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrIOUnavailable, name)
	}
}

// MockDriver is a test implementation that logs actions and keeps pin state
// in memory. Edges are injected with SimulateEdge.
type MockDriver struct {
	mu       sync.Mutex
	modes    map[int]PinMode
	levels   map[int]Level
	watchers map[int][]*mockWatch
	nextID   int
	closed   bool
}

type mockWatch struct {
	id      int
	edge    Edge
	handler func()
}

// NewMockDriver returns an empty in-memory driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		modes:    make(map[int]PinMode),
		levels:   make(map[int]Level),
		watchers: make(map[int][]*mockWatch),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: driver closed", ErrIOUnavailable)
	}
	m.modes[pin] = mode
	if mode == Input {
		// Pull-up: idle buttons read high.
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: driver closed", ErrIOUnavailable)
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) WatchPin(pin int, edge Edge, handler func()) (func(), error) {
	debug.GPIO("WatchPin", pin, edge)
	if handler == nil {
		return nil, fmt.Errorf("%w: nil edge handler", ErrIOUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: driver closed", ErrIOUnavailable)
	}
	m.nextID++
	w := &mockWatch{id: m.nextID, edge: edge, handler: handler}
	m.watchers[pin] = append(m.watchers[pin], w)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			list := m.watchers[pin]
			for i, x := range list {
				if x.id == w.id {
					m.watchers[pin] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// SimulateEdge drives pin to the level implied by edge and fires matching
// watch handlers on a fresh goroutine, like a real interrupt would.
// It returns the number of handlers fired.
func (m *MockDriver) SimulateEdge(pin int, edge Edge) int {
	m.mu.Lock()
	switch edge {
	case FallingEdge:
		m.levels[pin] = Low
	case RisingEdge:
		m.levels[pin] = High
	}
	var fire []func()
	for _, w := range m.watchers[pin] {
		if w.edge == edge || w.edge == BothEdges {
			fire = append(fire, w.handler)
		}
	}
	m.mu.Unlock()

	debug.GPIO("SimulateEdge", pin, edge)
	var wg sync.WaitGroup
	for _, h := range fire {
		wg.Add(1)
		go func(h func()) {
			defer wg.Done()
			h()
		}(h)
	}
	wg.Wait()
	return len(fire)
}

// Mode returns the configured mode of pin and whether it was set up.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

// Watchers returns how many handlers are registered on pin.
func (m *MockDriver) Watchers(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers[pin])
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watchers = make(map[int][]*mockWatch)
	return nil
}
