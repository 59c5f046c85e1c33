package gpio

import (
	"fmt"
	"sync"
)

// Port is a single digital I/O line opened on a Driver.
type Port struct {
	drv  Driver
	pin  int
	mu   sync.Mutex
	mode PinMode
	stop func()
}

// Open returns a Port for pin. The line is not configured until
// SetDirection is called.
func Open(d Driver, pin int) (*Port, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no driver for pin %d", ErrIOUnavailable, pin)
	}
	if pin < 0 {
		return nil, fmt.Errorf("%w: invalid pin %d", ErrIOUnavailable, pin)
	}
	return &Port{drv: d, pin: pin, mode: -1}, nil
}

// Pin returns the BCM pin number.
func (p *Port) Pin() int { return p.pin }

// SetDirection configures the line as input or output.
// Output lines start low.
func (p *Port) SetDirection(mode PinMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.drv.SetupPin(p.pin, mode); err != nil {
		return fmt.Errorf("%w: set direction %v on pin %d: %v", ErrIOUnavailable, mode, p.pin, err)
	}
	p.mode = mode
	if mode == Output {
		if err := p.drv.WritePin(p.pin, Low); err != nil {
			return fmt.Errorf("%w: initial low on pin %d: %v", ErrIOUnavailable, p.pin, err)
		}
	}
	return nil
}

// SetValue drives an output line.
func (p *Port) SetValue(level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != Output {
		return fmt.Errorf("%w: pin %d is not an output", ErrIOUnavailable, p.pin)
	}
	if err := p.drv.WritePin(p.pin, level); err != nil {
		return fmt.Errorf("%w: write pin %d: %v", ErrIOUnavailable, p.pin, err)
	}
	return nil
}

// Value reads the line.
func (p *Port) Value() (Level, error) {
	return p.drv.ReadPin(p.pin)
}

// OnEdge registers cb for edge transitions. Only one registration per
// Port is kept; registering again replaces the previous one.
func (p *Port) OnEdge(edge Edge, cb func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != Input {
		return fmt.Errorf("%w: pin %d is not an input", ErrIOUnavailable, p.pin)
	}
	stop, err := p.drv.WatchPin(p.pin, edge, cb)
	if err != nil {
		return fmt.Errorf("%w: watch pin %d: %v", ErrIOUnavailable, p.pin, err)
	}
	if p.stop != nil {
		p.stop()
	}
	p.stop = stop
	return nil
}

// Close unregisters any edge callback. Output lines are left low.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	if p.mode == Output {
		return p.drv.WritePin(p.pin, Low)
	}
	return nil
}
