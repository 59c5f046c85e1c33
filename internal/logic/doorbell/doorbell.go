// Package doorbell contains the capture-trigger and upload pipeline.
//
// A ring (button edge, web request or schedule) moves the pipeline from
// Idle to Capturing. The camera result is encoded, shown on the preview and
// queued for upload, then the preview is held for a fixed delay before the
// pipeline returns to Idle. Rings arriving while a cycle is in flight are
// dropped.
package doorbell

import (
	"time"

	"github.com/cjeanneret/GoBell/internal/hw/gpio"
)

// State is the pipeline state.
type State int32

const (
	Idle State = iota
	Capturing
	Uploading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Capturing:
		return "Capturing"
	case Uploading:
		return "Uploading"
	default:
		return "Unknown"
	}
}

// Ring sources.
const (
	SourceButton   = "button"
	SourceWeb      = "web"
	SourceSchedule = "schedule"
)

// DefaultPreviewHold is how long a snapshot stays on the preview.
const DefaultPreviewHold = 5000 * time.Millisecond

// Indicator drives the status LED.
type Indicator interface {
	SetValue(level gpio.Level) error
}

// Capturer takes one picture asynchronously. Exactly one callback fires.
type Capturer interface {
	TakePicture(onReady func([]byte), onError func(error))
}

// Uploader queues an encoded image without blocking.
type Uploader interface {
	Push(encoded string) bool
}

// Renderer is the local preview surface.
type Renderer interface {
	Render(encoded string)
	RenderIdlePlaceholder()
}

// Timer is a cancellable scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler uses time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config holds pipeline timing.
type Config struct {
	PreviewHold time.Duration
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	State    string `json:"state"`
	Cycles   uint64 `json:"cycles"`
	Dropped  uint64 `json:"dropped"`
	Failures uint64 `json:"failures"`
}
