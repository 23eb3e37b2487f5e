package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/andresmejia3/tally/internal/types"
	"github.com/andresmejia3/tally/internal/utils"
)

// Decoder streams raw RGBA frames out of FFmpeg at a fixed processing size.
type Decoder struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	width  int
	height int
	index  int
}

// NewDecoderCmd builds the FFmpeg command that scales the source to width x height
// and writes packed RGBA frames to stdout.
func NewDecoderCmd(ctx context.Context, inputPath string, width, height int) *utils.SafeCommand {
	return utils.NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vf", "scale="+strconv.Itoa(width)+":"+strconv.Itoa(height),
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// StartDecoder launches FFmpeg. The process is killed if ctx is cancelled.
func StartDecoder(ctx context.Context, inputPath string, width, height int) (*Decoder, error) {
	return startDecoder(NewDecoderCmd(ctx, inputPath, width, height), width, height)
}

func startDecoder(cmd *utils.SafeCommand, width, height int) (*Decoder, error) {
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return &Decoder{cmd: cmd, out: out, width: width, height: height}, nil
}

// NewDecoderFromReader wraps an existing raw RGBA stream. Used by tests.
func NewDecoderFromReader(r io.ReadCloser, width, height int) *Decoder {
	return &Decoder{out: r, width: width, height: height}
}

// ReadFrame fills buf with the next frame and returns its index.
// It returns io.EOF at a frame boundary; whether FFmpeg itself succeeded is reported by Close.
func (d *Decoder) ReadFrame(buf []byte) (int, error) {
	frameSize := d.width * d.height * 4
	if len(buf) < frameSize {
		return 0, fmt.Errorf("frame buffer too small: %d < %d", len(buf), frameSize)
	}
	_, err := io.ReadFull(d.out, buf[:frameSize])
	if errors.Is(err, io.EOF) {
		return 0, io.EOF
	}
	if err != nil {
		// rawvideo output is whole frames only, so a cut frame means FFmpeg died mid-write
		return 0, fmt.Errorf("%w: frame %d: %v", types.ErrSourceReadFailure, d.index, err)
	}
	idx := d.index
	d.index++
	return idx, nil
}

// Size returns the frame dimensions.
func (d *Decoder) Size() (int, int) {
	return d.width, d.height
}

// Command exposes the underlying process for error reporting. Nil for reader-backed decoders.
func (d *Decoder) Command() *utils.SafeCommand {
	return d.cmd
}

// Close releases the pipe and reaps FFmpeg.
func (d *Decoder) Close() error {
	d.out.Close()
	if d.cmd == nil {
		return nil
	}
	if err := d.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: decoder process failed: %v", types.ErrSourceReadFailure, err)
	}
	return nil
}
