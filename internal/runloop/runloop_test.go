package runloop

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/andresmejia3/tally/internal/counter"
	"github.com/andresmejia3/tally/internal/types"
	"github.com/google/go-cmp/cmp"
)

// sliceSource replays prepared frames, optionally cancelling after a given frame.
type sliceSource struct {
	frames      []types.Frame
	pos         int
	cancelAfter int
	cancel      context.CancelFunc
	failAt      int
	closed      bool
}

func (s *sliceSource) Next(ctx context.Context) (types.Frame, error) {
	if s.cancel != nil && s.pos == s.cancelAfter {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.failAt > 0 && s.pos == s.failAt {
		return types.Frame{}, types.ErrDetectorFailure
	}
	if s.pos >= len(s.frames) {
		return types.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Close() error { s.closed = true; return nil }

type memSink struct {
	frames int
	failAt int
	closed bool
	lastPx []byte
}

func (m *memSink) WriteFrame(img *image.RGBA) error {
	if m.failAt > 0 && m.frames == m.failAt {
		return errors.New("broken pipe")
	}
	m.frames++
	m.lastPx = append(m.lastPx[:0], img.Pix...)
	return nil
}

func (m *memSink) Close() error { m.closed = true; return nil }

func testGeometry(t *testing.T) counter.Geometry {
	t.Helper()
	// 200x200 frame, line at y=100
	g, err := counter.ComputeGeometry(200, 200, 1280, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// carFrames builds a 10-frame sequence of one tracked car moving from cy=200 up to cy=50.
func carFrames(g counter.Geometry) []types.Frame {
	var frames []types.Frame
	for i := 0; i < 10; i++ {
		cy := 200 - float64(i)*150/9
		frames = append(frames, types.Frame{
			Index:  i,
			Width:  g.Width,
			Height: g.Height,
			Detections: []types.Detection{
				{Box: types.Box{X1: 20, Y1: cy - 10, X2: 60, Y2: cy + 10}, Label: "car", Confidence: 0.8, TrackID: types.IntPtr(7)},
				{Box: types.Box{X1: 100, Y1: 10, X2: 120, Y2: 40}, Label: "person", Confidence: 0.9, TrackID: types.IntPtr(8)},
			},
		})
	}
	return frames
}

func TestRunCountsTrackedCarOnce(t *testing.T) {
	g := testGeometry(t)
	loop := New(g, counter.DefaultClassMapper(), nil)

	var decisions []counter.Decision
	framesSeen := 0
	loop.Hooks = Hooks{
		OnFrame:    func(types.Frame) { framesSeen++ },
		OnDecision: func(_ counter.Category, d counter.Decision) { decisions = append(decisions, d) },
	}

	src := &sliceSource{frames: carFrames(g)}
	sink := &memSink{}
	rep, err := loop.Run(context.Background(), src, sink)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := map[counter.Category]int{counter.Car: 1, counter.Truck: 0, counter.Bus: 0, counter.Motorcycle: 0}
	if diff := cmp.Diff(want, rep.Tallies); diff != "" {
		t.Errorf("tallies mismatch (-want +got):\n%s", diff)
	}
	if rep.UniqueTracks[counter.Car] != 1 {
		t.Errorf("unique car tracks = %d, want 1", rep.UniqueTracks[counter.Car])
	}
	if rep.Frames != 10 || sink.frames != 10 || framesSeen != 10 {
		t.Errorf("frames: report=%d sink=%d hook=%d", rep.Frames, sink.frames, framesSeen)
	}
	if rep.Detections != 10 {
		t.Errorf("vehicle detections = %d, want 10 (person excluded)", rep.Detections)
	}
	if len(decisions) != 20 {
		t.Errorf("expected a decision per detection, got %d", len(decisions))
	}
	if !sink.closed {
		t.Error("sink was not closed")
	}
	if rep.Interrupted {
		t.Error("clean run flagged as interrupted")
	}
}

func TestRunRendersOverlay(t *testing.T) {
	g := testGeometry(t)
	loop := New(g, counter.DefaultClassMapper(), nil)

	sink := &memSink{}
	_, err := loop.Run(context.Background(), &sliceSource{frames: carFrames(g)[:1]}, sink)
	if err != nil {
		t.Fatal(err)
	}

	// Pixel on the counting line at the right edge of the last written frame is red
	img := &image.RGBA{Pix: sink.lastPx, Stride: g.Width * 4, Rect: image.Rect(0, 0, g.Width, g.Height)}
	px := img.RGBAAt(g.Width-1, g.LineY)
	if px.R != 255 || px.G != 0 {
		t.Errorf("line not drawn, got %v", px)
	}
}

func TestRunSinkFailure(t *testing.T) {
	g := testGeometry(t)
	loop := New(g, counter.DefaultClassMapper(), nil)

	sink := &memSink{failAt: 3}
	rep, err := loop.Run(context.Background(), &sliceSource{frames: carFrames(g)}, sink)
	if !errors.Is(err, types.ErrSinkWriteFailure) {
		t.Fatalf("expected ErrSinkWriteFailure, got %v", err)
	}
	if rep.Frames != 3 {
		t.Errorf("frames = %d, want 3", rep.Frames)
	}
	if !sink.closed {
		t.Error("sink must be released on failure")
	}
}

func TestRunDetectorFailurePropagates(t *testing.T) {
	g := testGeometry(t)
	loop := New(g, counter.DefaultClassMapper(), nil)

	sink := &memSink{}
	_, err := loop.Run(context.Background(), &sliceSource{frames: carFrames(g), failAt: 4}, sink)
	if !errors.Is(err, types.ErrDetectorFailure) {
		t.Fatalf("expected ErrDetectorFailure, got %v", err)
	}
	if sink.frames != 4 || !sink.closed {
		t.Errorf("sink frames=%d closed=%v", sink.frames, sink.closed)
	}
}

func TestRunInterruptedFlushes(t *testing.T) {
	g := testGeometry(t)
	loop := New(g, counter.DefaultClassMapper(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{frames: carFrames(g), cancelAfter: 5, cancel: cancel}
	sink := &memSink{}
	rep, err := loop.Run(ctx, src, sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !rep.Interrupted || rep.Frames != 5 {
		t.Errorf("report = %+v", rep)
	}
	if !sink.closed {
		t.Error("interrupted run must still close (flush) the sink")
	}
}

func TestRunRejectsGeometryMismatch(t *testing.T) {
	g := testGeometry(t)
	loop := New(g, counter.DefaultClassMapper(), nil)

	frames := []types.Frame{{Index: 0, Width: g.Width * 2, Height: g.Height * 2}}
	_, err := loop.Run(context.Background(), &sliceSource{frames: frames}, &memSink{})
	if !errors.Is(err, types.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}
