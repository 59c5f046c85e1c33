package camera

import (
	"context"
	"errors"
)

var (
	// ErrCaptureFailed wraps every failure to produce a frame.
	ErrCaptureFailed = errors.New("camera: capture failed")
	// ErrBusy is returned when a picture is requested while one is in flight.
	ErrBusy = errors.New("camera: request already in flight")

	errEmptyFrame = errors.New("empty frame")
)

// Camera types accepted in configuration.
const (
	TypeMock   = "mock"
	TypeGoCV   = "gocv"
	TypeFFmpeg = "ffmpeg"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's attached
// (USB/CSI through OpenCV, V4L2 through ffmpeg, a mock, etc.).
type Camera interface {
	// Capture grabs a single frame and returns it as encoded image bytes.
	Capture(ctx context.Context) ([]byte, error)
	// Close releases the device.
	Close() error
}
