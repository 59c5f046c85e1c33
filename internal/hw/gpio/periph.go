package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/GoBell/internal/debug"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgeWaitTimeout bounds each WaitForEdge call so watchers notice stop.
const edgeWaitTimeout = 250 * time.Millisecond

// PeriphDriver drives pins through periph.io. Unlike go-rpio, edge
// detection is interrupt driven by the kernel (WaitForEdge).
type PeriphDriver struct {
	mu    sync.Mutex
	pins  map[int]pgpio.PinIO
	stops []func()
	wg    sync.WaitGroup
}

// NewPeriphDriver initialises the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %v", ErrIOUnavailable, err)
	}
	return &PeriphDriver{pins: make(map[int]pgpio.PinIO)}, nil
}

func (d *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, fmt.Errorf("%w: no such pin GPIO%d", ErrIOUnavailable, pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		err = p.In(pgpio.PullUp, pgpio.NoEdge)
	case Output:
		err = p.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	if err != nil {
		return fmt.Errorf("%w: setup GPIO%d: %v", ErrIOUnavailable, pin, err)
	}
	return nil
}

func (d *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	l := pgpio.Low
	if level == High {
		l = pgpio.High
	}
	return p.Out(l)
}

func (d *PeriphDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, err := d.lookup(pin)
	if err != nil {
		return Low, err
	}
	return Level(p.Read() == pgpio.High), nil
}

func toPeriphEdge(e Edge) (pgpio.Edge, error) {
	switch e {
	case RisingEdge:
		return pgpio.RisingEdge, nil
	case FallingEdge:
		return pgpio.FallingEdge, nil
	case BothEdges:
		return pgpio.BothEdges, nil
	default:
		return pgpio.NoEdge, fmt.Errorf("%w: unsupported edge %v", ErrIOUnavailable, e)
	}
}

func (d *PeriphDriver) WatchPin(pin int, edge Edge, handler func()) (func(), error) {
	debug.GPIO("WatchPin", pin, edge)

	pe, err := toPeriphEdge(edge)
	if err != nil {
		return nil, err
	}
	p, err := d.lookup(pin)
	if err != nil {
		return nil, err
	}
	if err := p.In(pgpio.PullUp, pe); err != nil {
		return nil, fmt.Errorf("%w: edge detection on GPIO%d: %v", ErrIOUnavailable, pin, err)
	}

	done := make(chan struct{})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if p.WaitForEdge(edgeWaitTimeout) {
				debug.GPIO("Edge", pin, edge)
				handler()
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = p.In(pgpio.PullUp, pgpio.NoEdge)
		})
	}
	d.mu.Lock()
	d.stops = append(d.stops, stop)
	d.mu.Unlock()
	return stop, nil
}

func (d *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph driver)")

	d.mu.Lock()
	stops := d.stops
	d.stops = nil
	d.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, p := range d.pins {
		debug.Verbose("Halting GPIO%d", pin)
		_ = p.Halt()
	}
	return nil
}
