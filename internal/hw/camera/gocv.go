package camera

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cjeanneret/GoBell/internal/debug"
	"gocv.io/x/gocv"
)

// GoCV captures from a V4L2/USB camera through OpenCV.
//
// The device is opened on first use and dropped after any read failure, so
// a camera that is unplugged or not yet available is retried on the next
// ring instead of disabling capture for good.
type GoCV struct {
	device  int
	width   int
	height  int
	quality int
	warmup  int

	mu sync.Mutex
	vc *gocv.VideoCapture
}

// NewGoCV creates an OpenCV camera for /dev/video<device>.
// warmup frames are read and discarded after opening so auto exposure can
// settle.
func NewGoCV(device, width, height, quality, warmup int) *GoCV {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &GoCV{
		device:  device,
		width:   width,
		height:  height,
		quality: quality,
		warmup:  warmup,
	}
}

func (g *GoCV) open() error {
	vc, err := gocv.OpenVideoCapture(g.device)
	if err != nil {
		return fmt.Errorf("open video device %d: %w", g.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("video device %d not available", g.device)
	}
	if g.width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(g.width))
	}
	if g.height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(g.height))
	}

	mat := gocv.NewMat()
	defer mat.Close()
	for i := 0; i < g.warmup; i++ {
		vc.Read(&mat)
	}

	g.vc = vc
	debug.Verbose("Camera (gocv): opened device %d (%dx%d)", g.device, g.width, g.height)
	return nil
}

func (g *GoCV) reset() {
	if g.vc != nil {
		g.vc.Close()
		g.vc = nil
	}
}

func (g *GoCV) Capture(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.vc == nil {
		if err := g.open(); err != nil {
			return nil, err
		}
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := g.vc.Read(&mat); !ok || mat.Empty() {
		g.reset()
		return nil, fmt.Errorf("read frame from device %d", g.device)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, g.quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

func (g *GoCV) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
	return nil
}
