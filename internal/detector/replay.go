package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andresmejia3/tally/internal/types"
)

// BoxScaler converts boxes between source and processing pixel space.
// counter.Geometry implements it.
type BoxScaler interface {
	ScaleBox(types.Box) types.Box
	UnscaleBox(types.Box) types.Box
}

// record is one line of a detections file. Boxes are in source-resolution pixels
// so a file stays valid whatever --resize the replay uses.
type record struct {
	Frame      int               `json:"frame"`
	Detections []recordDetection `json:"detections"`
}

type recordDetection struct {
	Box        [4]float64 `json:"box"` // x1, y1, x2, y2
	Label      string     `json:"label,omitempty"`
	Class      int        `json:"class"`
	Confidence float64    `json:"confidence"`
	TrackID    *int       `json:"track_id,omitempty"`
}

// Replay serves detections recorded earlier instead of running a model.
// Frames absent from the file have no detections.
type Replay struct {
	closer  io.Closer
	scanner *bufio.Scanner
	scaler  BoxScaler
	pending *record
	eof     bool
	line    int
}

// NewReplay reads JSON lines from r. If r is an io.Closer it is closed by Close.
func NewReplay(r io.Reader, scaler BoxScaler) *Replay {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	rp := &Replay{scanner: sc, scaler: scaler}
	if c, ok := r.(io.Closer); ok {
		rp.closer = c
	}
	return rp
}

func (r *Replay) next() (*record, error) {
	if r.pending != nil {
		rec := r.pending
		r.pending = nil
		return rec, nil
	}
	for !r.eof {
		if !r.scanner.Scan() {
			r.eof = true
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			break
		}
		r.line++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return &rec, nil
	}
	return nil, nil
}

// Detect returns the recorded detections for frame.Index, scaled to processing resolution.
func (r *Replay) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	var out []types.Detection
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		if rec.Frame > frame.Index {
			r.pending = rec
			return out, nil
		}
		if rec.Frame < frame.Index {
			return nil, fmt.Errorf("detections file out of order: frame %d after frame %d", rec.Frame, frame.Index)
		}
		for _, d := range rec.Detections {
			out = append(out, types.Detection{
				Box:        r.scaler.ScaleBox(types.Box{X1: d.Box[0], Y1: d.Box[1], X2: d.Box[2], Y2: d.Box[3]}),
				Label:      d.Label,
				ClassID:    d.Class,
				Confidence: d.Confidence,
				TrackID:    d.TrackID,
			})
		}
	}
}

func (r *Replay) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Recorder wraps a detector and appends every frame's detections to a JSON lines file.
type Recorder struct {
	inner  Detector
	out    *bufio.Writer
	closer io.Closer
	scaler BoxScaler
	enc    *json.Encoder
}

// NewRecorder records to w. Boxes are written back in source pixels.
func NewRecorder(inner Detector, w io.Writer, scaler BoxScaler) *Recorder {
	bw := bufio.NewWriter(w)
	rec := &Recorder{inner: inner, out: bw, scaler: scaler, enc: json.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		rec.closer = c
	}
	return rec
}

func (r *Recorder) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	dets, err := r.inner.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}

	rec := record{Frame: frame.Index, Detections: make([]recordDetection, 0, len(dets))}
	for _, d := range dets {
		b := r.scaler.UnscaleBox(d.Box)
		rec.Detections = append(rec.Detections, recordDetection{
			Box:        [4]float64{b.X1, b.Y1, b.X2, b.Y2},
			Label:      d.Label,
			Class:      d.ClassID,
			Confidence: d.Confidence,
			TrackID:    d.TrackID,
		})
	}
	if err := r.enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("record detections: %w", err)
	}
	return dets, nil
}

// Inner returns the wrapped detector.
func (r *Recorder) Inner() Detector {
	return r.inner
}

// Close flushes the file before closing the wrapped detector.
func (r *Recorder) Close() error {
	flushErr := r.out.Flush()
	if r.closer != nil {
		if err := r.closer.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	if err := r.inner.Close(); err != nil {
		return err
	}
	return flushErr
}
