package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"strconv"

	"github.com/andresmejia3/tally/internal/types"
	"github.com/andresmejia3/tally/internal/utils"
)

// NewEncoderCmd builds the FFmpeg command that reads raw RGBA frames from stdin and writes H.264.
// libx264 with yuv420p needs even dimensions, so odd sizes are padded by one pixel.
func NewEncoderCmd(ctx context.Context, outputPath string, fps float64, width, height int) *utils.SafeCommand {
	return utils.NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		outputPath)
}

// Encoder is a frame sink backed by an FFmpeg process.
type Encoder struct {
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	width  int
	height int
	closed bool
}

// StartEncoder launches FFmpeg. Pass a context that outlives interruption of the run
// (e.g. context.WithoutCancel) so that Close can still finalize the file.
func StartEncoder(ctx context.Context, outputPath string, fps float64, width, height int) (*Encoder, error) {
	cmd := NewEncoderCmd(ctx, outputPath, fps, width, height)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create encoder pipe: %v", types.ErrSinkWriteFailure, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start encoder: %v", types.ErrSinkWriteFailure, err)
	}
	return &Encoder{cmd: cmd, in: in, width: width, height: height}, nil
}

// NewEncoderFromWriter wraps an arbitrary writer. Used by tests.
func NewEncoderFromWriter(w io.WriteCloser, width, height int) *Encoder {
	return &Encoder{in: w, width: width, height: height}
}

// WriteFrame sends one frame to the encoder. The image must match the configured size.
func (e *Encoder) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != e.width || b.Dy() != e.height {
		return fmt.Errorf("%w: frame is %dx%d, encoder expects %dx%d", types.ErrSinkWriteFailure, b.Dx(), b.Dy(), e.width, e.height)
	}
	pix := img.Pix
	if img.Stride != e.width*4 {
		pix = make([]byte, 0, e.width*e.height*4)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := img.PixOffset(b.Min.X, y)
			pix = append(pix, img.Pix[off:off+e.width*4]...)
		}
	}
	if _, err := e.in.Write(pix[:e.width*e.height*4]); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSinkWriteFailure, err)
	}
	return nil
}

// Command exposes the underlying process for error reporting. Nil for writer-backed encoders.
func (e *Encoder) Command() *utils.SafeCommand {
	return e.cmd
}

// Close flushes the input and waits for FFmpeg to finalize the container.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.in.Close(); err != nil && e.cmd == nil {
		return fmt.Errorf("%w: %v", types.ErrSinkWriteFailure, err)
	}
	if e.cmd == nil {
		return nil
	}
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: encoder process failed: %v", types.ErrSinkWriteFailure, err)
	}
	return nil
}
