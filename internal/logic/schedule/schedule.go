// Package schedule rings the doorbell on a cron schedule.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cjeanneret/GoBell/internal/debug"
)

// Validate reports whether spec is a standard 5-field cron expression or
// a descriptor such as "@every 1m".
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Periodic calls trigger on every tick of a cron schedule.
type Periodic struct {
	spec    string
	trigger func() bool
	cron    *cron.Cron
	id      cron.EntryID

	mu      sync.Mutex
	started bool
}

// NewPeriodic validates spec. trigger returns false when the ring was
// dropped because a cycle is already running.
func NewPeriodic(spec string, trigger func() bool) (*Periodic, error) {
	if trigger == nil {
		return nil, fmt.Errorf("schedule: nil trigger")
	}
	if err := Validate(spec); err != nil {
		return nil, err
	}
	p := &Periodic{spec: spec, trigger: trigger, cron: cron.New()}
	id, err := p.cron.AddFunc(spec, p.tick)
	if err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	p.id = id
	return p, nil
}

func (p *Periodic) tick() {
	if !p.trigger() {
		debug.Verbose("Scheduled ring skipped: doorbell busy")
	}
}

// Start begins ticking in the background.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.cron.Start()
	debug.Info("Periodic capture started with schedule: %s", p.spec)
}

// Stop halts the schedule and waits for a running tick to finish.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	<-p.cron.Stop().Done()
}

// Next returns the next scheduled tick after now.
func (p *Periodic) Next(now time.Time) time.Time {
	return p.cron.Entry(p.id).Schedule.Next(now)
}
