package doorbell

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/GoBell/internal/debug"
	"github.com/cjeanneret/GoBell/internal/hw/gpio"
	"github.com/cjeanneret/GoBell/internal/logic/imagecodec"
)

type eventKind int

const (
	evRing eventKind = iota
	evPictureReady
	evCaptureFailed
	evHoldExpired
)

type event struct {
	kind   eventKind
	source string
	data   []byte
	err    error
}

// Pipeline serializes doorbell cycles. Trigger may be called from any
// goroutine; the LED and preview are only touched by the Run loop.
type Pipeline struct {
	led      Indicator // nil when the LED is unavailable
	camera   Capturer
	uploader Uploader
	preview  Renderer
	sched    Scheduler
	hold     Config

	state  atomic.Int32
	events chan event
	done   chan struct{}
	once   sync.Once

	mu           sync.Mutex
	onTransition func(from, to State)

	cycles   atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

// NewPipeline wires the collaborators. led may be nil. A nil sched uses
// RealScheduler.
func NewPipeline(led Indicator, cam Capturer, up Uploader, preview Renderer, sched Scheduler, cfg Config) *Pipeline {
	if sched == nil {
		sched = RealScheduler{}
	}
	if cfg.PreviewHold <= 0 {
		cfg.PreviewHold = DefaultPreviewHold
	}
	return &Pipeline{
		led:      led,
		camera:   cam,
		uploader: up,
		preview:  preview,
		sched:    sched,
		hold:     cfg,
		events:   make(chan event, 8),
		done:     make(chan struct{}),
	}
}

// OnTransition registers fn, called from the Run loop on each state change.
func (p *Pipeline) OnTransition(fn func(from, to State)) {
	p.mu.Lock()
	p.onTransition = fn
	p.mu.Unlock()
}

// Trigger requests a capture cycle. It returns false when a cycle is
// already in flight or the pipeline has stopped; the ring is dropped.
func (p *Pipeline) Trigger(source string) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if !p.state.CompareAndSwap(int32(Idle), int32(Capturing)) {
		p.dropped.Add(1)
		debug.Live("Ring from %s dropped (%s)", source, p.State())
		return false
	}
	p.post(event{kind: evRing, source: source})
	return true
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		State:    p.State().String(),
		Cycles:   p.cycles.Load(),
		Dropped:  p.dropped.Load(),
		Failures: p.failures.Load(),
	}
}

func (p *Pipeline) post(e event) {
	select {
	case p.events <- e:
	case <-p.done:
	}
}

// Run owns the LED and preview until ctx is cancelled. On exit the LED is
// driven low and any pending hold timer is stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	p.setLED(gpio.Low)
	p.preview.RenderIdlePlaceholder()
	debug.Verbose("Doorbell pipeline started (preview hold %v)", p.hold.PreviewHold)

	var timer Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		p.once.Do(func() { close(p.done) })
		p.setLED(gpio.Low)
		debug.Verbose("Doorbell pipeline stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-p.events:
			switch e.kind {
			case evRing:
				p.onRing(e.source)
			case evPictureReady:
				timer = p.onPictureReady(e.data)
			case evCaptureFailed:
				p.onCaptureFailed(e.err)
			case evHoldExpired:
				timer = nil
				p.onHoldExpired()
			}
		}
	}
}

func (p *Pipeline) onRing(source string) {
	debug.Ring(source)
	p.notify(Idle, Capturing)
	p.camera.TakePicture(
		func(b []byte) { p.post(event{kind: evPictureReady, data: b}) },
		func(err error) { p.post(event{kind: evCaptureFailed, err: err}) },
	)
}

func (p *Pipeline) onPictureReady(data []byte) Timer {
	encoded := imagecodec.Encode(data)
	p.setState(Capturing, Uploading)

	p.setLED(gpio.High)
	p.preview.Render(encoded)
	debug.Live("Preview: %d bytes (%d encoded)", len(data), len(encoded))
	p.uploader.Push(encoded)

	return p.sched.AfterFunc(p.hold.PreviewHold, func() {
		p.post(event{kind: evHoldExpired})
	})
}

func (p *Pipeline) onCaptureFailed(err error) {
	p.failures.Add(1)
	debug.Errorf("camera", err)
	p.setLED(gpio.Low)
	p.setState(Capturing, Idle)
}

func (p *Pipeline) onHoldExpired() {
	p.setLED(gpio.Low)
	p.preview.RenderIdlePlaceholder()
	p.cycles.Add(1)
	p.setState(Uploading, Idle)
}

func (p *Pipeline) setState(from, to State) {
	p.state.Store(int32(to))
	p.notify(from, to)
}

func (p *Pipeline) notify(from, to State) {
	debug.Transition(from.String(), to.String())
	p.mu.Lock()
	fn := p.onTransition
	p.mu.Unlock()
	if fn != nil {
		fn(from, to)
	}
}

func (p *Pipeline) setLED(level gpio.Level) {
	if p.led == nil {
		return
	}
	if err := p.led.SetValue(level); err != nil {
		debug.Errorf("led", err)
	}
}
