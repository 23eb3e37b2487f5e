// Package detector turns a video into a lazy, single-pass sequence of frames with detections.
// The model itself sits behind the Detector interface.
package detector

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/tally/internal/types"
)

// Detector produces detections for one frame at processing resolution.
// Implementations may keep tracker state between calls, so frames must be passed in order.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
	Close() error
}

// Source is a finite, non-restartable stream of frames. Next returns io.EOF after the last frame.
type Source interface {
	Next(ctx context.Context) (types.Frame, error)
	Close() error
}

// FrameReader yields raw RGBA frames. video.Decoder satisfies it.
type FrameReader interface {
	ReadFrame(buf []byte) (int, error)
	Size() (int, int)
	Close() error
}

// Stream pairs a frame reader with a detector.
type Stream struct {
	frames   FrameReader
	detector Detector
	buf      []byte
	done     bool
}

// NewStream takes ownership of both frames and det; Close releases them.
func NewStream(frames FrameReader, det Detector) *Stream {
	w, h := frames.Size()
	return &Stream{
		frames:   frames,
		detector: det,
		buf:      make([]byte, w*h*4),
	}
}

// Next decodes one frame and runs detection on it. The returned Pix aliases an
// internal buffer that is overwritten by the following call.
func (s *Stream) Next(ctx context.Context) (types.Frame, error) {
	if s.done {
		return types.Frame{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	idx, err := s.frames.ReadFrame(s.buf)
	if errors.Is(err, io.EOF) {
		s.done = true
		return types.Frame{}, io.EOF
	}
	if err != nil {
		return types.Frame{}, fmt.Errorf("read frame: %w", err)
	}

	w, h := s.frames.Size()
	frame := types.Frame{Index: idx, Pix: s.buf, Width: w, Height: h}

	dets, err := s.detector.Detect(ctx, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Frame{}, ctxErr
		}
		return types.Frame{}, fmt.Errorf("%w: frame %d: %v", types.ErrDetectorFailure, idx, err)
	}
	frame.Detections = dets
	return frame, nil
}

// Close releases the detector first so a stuck worker cannot hold the decoder pipe open.
// After the stream reached io.EOF a failing decoder is reported as ErrSourceReadFailure:
// the frames seen so far may not be the whole video.
func (s *Stream) Close() error {
	detErr := s.detector.Close()
	frameErr := s.frames.Close()
	if detErr != nil {
		return wrapKind(types.ErrDetectorFailure, detErr)
	}
	// A decoder killed by cancellation or stopped early reports a non-nil wait error;
	// only surface it if the stream actually reached the end.
	if s.done && frameErr != nil {
		return wrapKind(types.ErrSourceReadFailure, frameErr)
	}
	return nil
}

func wrapKind(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}
