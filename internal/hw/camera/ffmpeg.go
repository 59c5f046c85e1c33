package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/cjeanneret/GoBell/internal/debug"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpeg grabs a single MJPEG frame from a V4L2 device by running ffmpeg.
// It needs no cgo and works with any camera ffmpeg can read.
type FFmpeg struct {
	device string
	width  int
	height int
}

// NewFFmpeg creates an ffmpeg camera reading device (e.g. /dev/video0).
func NewFFmpeg(device string, width, height int) *FFmpeg {
	if device == "" {
		device = "/dev/video0"
	}
	return &FFmpeg{device: device, width: width, height: height}
}

// command builds the ffmpeg invocation writing one frame to out.
func (f *FFmpeg) command(out, errOut *bytes.Buffer) *exec.Cmd {
	in := ffmpeg.KwArgs{"f": "v4l2"}
	if f.width > 0 && f.height > 0 {
		in["video_size"] = fmt.Sprintf("%dx%d", f.width, f.height)
	}
	return ffmpeg.Input(f.device, in).
		Output("pipe:", ffmpeg.KwArgs{
			"vframes": 1,
			"format":  "image2",
			"vcodec":  "mjpeg",
		}).
		WithOutput(out, errOut).
		Compile()
}

func (f *FFmpeg) Capture(ctx context.Context) ([]byte, error) {
	var out, errOut bytes.Buffer
	cmd := f.command(&out, &errOut)
	debug.Trace("Camera (ffmpeg): %v", cmd.Args)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, lastLine(errOut.Bytes()))
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, ctx.Err()
	}
	return out.Bytes(), nil
}

func (f *FFmpeg) Close() error { return nil }

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}
