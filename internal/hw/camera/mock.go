package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/cjeanneret/GoBell/internal/debug"
)

// Mock is a development camera producing a JPEG test card.
// Err, when set, is returned by every Capture instead of a frame.
type Mock struct {
	Width  int
	Height int
	Delay  time.Duration

	mu    sync.Mutex
	Err   error
	shots int
}

// NewMock returns a mock camera producing width x height frames.
func NewMock(width, height int, delay time.Duration) *Mock {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &Mock{Width: width, Height: height, Delay: delay}
}

// SetError makes subsequent captures fail with err (nil restores frames).
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// Shots returns the number of Capture calls.
func (m *Mock) Shots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shots
}

func (m *Mock) Capture(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	m.shots++
	n, err := m.shots, m.Err
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	debug.Trace("Camera (mock): rendering test card #%d", n)
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	bars := []color.RGBA{
		{255, 255, 255, 255}, {255, 255, 0, 255}, {0, 255, 255, 255}, {0, 255, 0, 255},
		{255, 0, 255, 255}, {255, 0, 0, 255}, {0, 0, 255, 255},
	}
	for x := 0; x < m.Width; x++ {
		c := bars[(x*len(bars)/m.Width+n)%len(bars)]
		for y := 0; y < m.Height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Mock) Close() error { return nil }
