package doorbell

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/GoBell/internal/hw/camera"
	"github.com/cjeanneret/GoBell/internal/hw/gpio"
	"github.com/cjeanneret/GoBell/internal/logic/imagecodec"
	"github.com/cjeanneret/GoBell/internal/upload"
)

type fakeLED struct {
	mu     sync.Mutex
	levels []gpio.Level
}

func (f *fakeLED) SetValue(l gpio.Level) error {
	f.mu.Lock()
	f.levels = append(f.levels, l)
	f.mu.Unlock()
	return nil
}

func (f *fakeLED) history() []gpio.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gpio.Level(nil), f.levels...)
}

type fakePreview struct {
	mu     sync.Mutex
	frames []string
}

func (f *fakePreview) Render(encoded string) {
	f.mu.Lock()
	f.frames = append(f.frames, encoded)
	f.mu.Unlock()
}

func (f *fakePreview) RenderIdlePlaceholder() {
	f.mu.Lock()
	f.frames = append(f.frames, "idle")
	f.mu.Unlock()
}

func (f *fakePreview) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

// fakeCamera completes pictures on demand.
type fakeCamera struct {
	mu      sync.Mutex
	calls   int
	onReady func([]byte)
	onError func(error)
}

func (f *fakeCamera) TakePicture(onReady func([]byte), onError func(error)) {
	f.mu.Lock()
	f.calls++
	f.onReady, f.onError = onReady, onError
	f.mu.Unlock()
}

func (f *fakeCamera) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCamera) ready(b []byte) {
	f.mu.Lock()
	cb := f.onReady
	f.mu.Unlock()
	cb(b)
}

func (f *fakeCamera) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	cb(err)
}

type fakeUploader struct {
	mu     sync.Mutex
	pushed []string
	accept bool
}

func (f *fakeUploader) Push(encoded string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, encoded)
	return f.accept
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

type fakeTimer struct{ stopped atomic.Bool }

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// fakeScheduler records delays; tests fire the callback explicitly.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}

func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	f := s.funcs[i]
	s.mu.Unlock()
	f()
}

type harness struct {
	led     *fakeLED
	preview *fakePreview
	cam     *fakeCamera
	up      *fakeUploader
	sched   *fakeScheduler
	p       *Pipeline
	cancel  context.CancelFunc
	errc    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		led:     &fakeLED{},
		preview: &fakePreview{},
		cam:     &fakeCamera{},
		up:      &fakeUploader{accept: true},
		sched:   &fakeScheduler{},
		errc:    make(chan error, 1),
	}
	h.p = NewPipeline(h.led, h.cam, h.up, h.preview, h.sched, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.errc
	})
	waitFor(t, "startup", func() bool { return len(h.preview.history()) == 1 })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Idle, "Idle"},
		{Capturing, "Capturing"},
		{Uploading, "Uploading"},
		{State(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestSuccessfulCycle(t *testing.T) {
	h := newHarness(t)
	img := []byte("jpeg-bytes")
	enc := imagecodec.Encode(img)

	if !h.p.Trigger(SourceButton) {
		t.Fatal("Trigger from Idle rejected")
	}
	waitFor(t, "capture request", func() bool { return h.cam.callCount() == 1 })
	if h.p.State() != Capturing {
		t.Fatalf("state = %s, want Capturing", h.p.State())
	}

	h.cam.ready(img)
	waitFor(t, "hold timer", func() bool { return h.sched.pending() == 1 })
	if h.p.State() != Uploading {
		t.Fatalf("state = %s, want Uploading", h.p.State())
	}
	if h.sched.delays[0] != 5000*time.Millisecond {
		t.Errorf("hold = %v, want 5s", h.sched.delays[0])
	}
	if h.up.count() != 1 || h.up.pushed[0] != enc {
		t.Errorf("uploaded = %v, want [%s]", h.up.pushed, enc)
	}

	h.sched.fire(0)
	waitFor(t, "idle", func() bool { return h.p.State() == Idle })

	wantLED := []gpio.Level{gpio.Low, gpio.High, gpio.Low}
	if got := h.led.history(); !equalLevels(got, wantLED) {
		t.Errorf("LED = %v, want %v", got, wantLED)
	}
	wantPreview := []string{"idle", enc, "idle"}
	if got := h.preview.history(); !equalStrings(got, wantPreview) {
		t.Errorf("preview = %v, want %v", got, wantPreview)
	}
	if st := h.p.Stats(); st.Cycles != 1 || st.State != "Idle" {
		t.Errorf("stats = %+v", st)
	}
}

func TestOverlappingRingsDropped(t *testing.T) {
	h := newHarness(t)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.p.Trigger(SourceWeb) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Fatalf("accepted = %d, want 1", accepted.Load())
	}
	waitFor(t, "capture request", func() bool { return h.cam.callCount() == 1 })

	h.cam.ready([]byte{1, 2, 3})
	waitFor(t, "hold timer", func() bool { return h.sched.pending() == 1 })
	if h.p.Trigger(SourceButton) {
		t.Error("Trigger during Uploading accepted")
	}
	h.sched.fire(0)
	waitFor(t, "idle", func() bool { return h.p.State() == Idle })

	if h.cam.callCount() != 1 {
		t.Errorf("camera calls = %d, want 1", h.cam.callCount())
	}
	highs := 0
	for _, l := range h.led.history() {
		if l == gpio.High {
			highs++
		}
	}
	if highs != 1 {
		t.Errorf("LED went high %d times, want 1", highs)
	}
	if st := h.p.Stats(); st.Dropped != 50 {
		t.Errorf("dropped = %d, want 50", st.Dropped)
	}

	if !h.p.Trigger(SourceButton) {
		t.Error("Trigger after cycle rejected")
	}
}

func TestCaptureFailure(t *testing.T) {
	h := newHarness(t)

	h.p.Trigger(SourceButton)
	waitFor(t, "capture request", func() bool { return h.cam.callCount() == 1 })
	h.cam.fail(camera.ErrCaptureFailed)
	waitFor(t, "idle", func() bool { return h.p.State() == Idle })

	levels := h.led.history()
	for _, l := range levels {
		if l == gpio.High {
			t.Fatalf("LED went high on failed capture: %v", levels)
		}
	}
	if levels[len(levels)-1] != gpio.Low {
		t.Errorf("LED not left low: %v", levels)
	}
	if h.up.count() != 0 || h.sched.pending() != 0 {
		t.Error("failed capture must not upload or schedule")
	}
	if st := h.p.Stats(); st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}
	if !h.p.Trigger(SourceButton) {
		t.Error("Trigger after failure rejected")
	}
}

func TestUploadRejectedKeepsVisuals(t *testing.T) {
	h := newHarness(t)
	h.up.accept = false

	h.p.Trigger(SourceButton)
	waitFor(t, "capture request", func() bool { return h.cam.callCount() == 1 })
	h.cam.ready([]byte("x"))
	waitFor(t, "hold timer", func() bool { return h.sched.pending() == 1 })
	h.sched.fire(0)
	waitFor(t, "idle", func() bool { return h.p.State() == Idle })

	if got := h.led.history(); !equalLevels(got, []gpio.Level{gpio.Low, gpio.High, gpio.Low}) {
		t.Errorf("LED = %v", got)
	}
	if got := h.preview.history(); len(got) != 3 || got[0] != "idle" || got[2] != "idle" {
		t.Errorf("preview = %v", got)
	}
}

func TestNilLED(t *testing.T) {
	preview := &fakePreview{}
	cam := &fakeCamera{}
	sched := &fakeScheduler{}
	p := NewPipeline(nil, cam, &fakeUploader{accept: true}, preview, sched, Config{PreviewHold: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	p.Trigger(SourceSchedule)
	waitFor(t, "capture request", func() bool { return cam.callCount() == 1 })
	cam.ready([]byte("x"))
	waitFor(t, "hold timer", func() bool { return sched.pending() == 1 })
	if sched.delays[0] != time.Second {
		t.Errorf("hold = %v, want 1s", sched.delays[0])
	}
	sched.fire(0)
	waitFor(t, "idle", func() bool { return p.State() == Idle })

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if p.Trigger(SourceButton) {
		t.Error("Trigger after Run exited accepted")
	}
}

func TestStopCancelsHoldTimer(t *testing.T) {
	h := newHarness(t)
	h.p.Trigger(SourceButton)
	waitFor(t, "capture request", func() bool { return h.cam.callCount() == 1 })
	h.cam.ready([]byte("x"))
	waitFor(t, "hold timer", func() bool { return h.sched.pending() == 1 })

	h.cancel()
	<-h.errc
	h.errc <- nil // satisfy cleanup

	if !h.sched.timers[0].stopped.Load() {
		t.Error("hold timer not stopped on shutdown")
	}
	levels := h.led.history()
	if levels[len(levels)-1] != gpio.Low {
		t.Errorf("LED not low after shutdown: %v", levels)
	}
}

func TestOnTransition(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var seen []string
	h.p.OnTransition(func(from, to State) {
		mu.Lock()
		seen = append(seen, from.String()+">"+to.String())
		mu.Unlock()
	})

	h.p.Trigger(SourceButton)
	waitFor(t, "capture request", func() bool { return h.cam.callCount() == 1 })
	h.cam.ready([]byte("x"))
	waitFor(t, "hold timer", func() bool { return h.sched.pending() == 1 })
	h.sched.fire(0)
	waitFor(t, "idle", func() bool { return h.p.State() == Idle })

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Idle>Capturing", "Capturing>Uploading", "Uploading>Idle"}
	if !equalStrings(seen, want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}

// fixedCamera returns the same frame on every capture.
type fixedCamera struct{ frame []byte }

func (c fixedCamera) Capture(ctx context.Context) ([]byte, error) { return c.frame, nil }
func (c fixedCamera) Close() error                                { return nil }

func TestDoorbellScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := bytes.Repeat([]byte{0xAB}, 1024)
	svc := camera.NewService(fixedCamera{frame: frame}, time.Second)
	go svc.Run(ctx)

	mem := upload.NewMemorySink(0)
	worker := upload.NewWorker(mem, upload.WorkerConfig{})
	go worker.Run(ctx)

	led := &fakeLED{}
	preview := &fakePreview{}
	sched := &fakeScheduler{}
	p := NewPipeline(led, svc, worker, preview, sched, Config{})
	go p.Run(ctx)

	if !p.Trigger(SourceButton) {
		t.Fatal("ring rejected")
	}
	waitFor(t, "hold timer", func() bool { return sched.pending() == 1 })
	if sched.delays[0] != 5000*time.Millisecond {
		t.Errorf("hold = %v", sched.delays[0])
	}
	waitFor(t, "upload", func() bool { return mem.Len(upload.DefaultPath) == 1 })

	sched.fire(0)
	waitFor(t, "idle", func() bool { return p.State() == Idle })

	recs, err := mem.List(ctx, upload.DefaultPath, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("entries = %d, want 1", len(recs))
	}
	got, err := imagecodec.Decode(recs[0].Entry.Image)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Error("stored image does not match captured frame")
	}
	if l := led.history(); l[len(l)-1] != gpio.Low {
		t.Errorf("LED = %v", l)
	}
	if f := preview.history(); f[len(f)-1] != "idle" {
		t.Errorf("preview = %v", f)
	}
}

func equalLevels(a, b []gpio.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
