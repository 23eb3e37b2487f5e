package types

import "errors"

// Error kinds surfaced by a counting run. Callers match them with errors.Is.
var (
	ErrSourceNotFound       = errors.New("source not found")
	ErrSourceReadFailure    = errors.New("source read failure")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrDetectorFailure      = errors.New("detector failure")
	ErrSinkWriteFailure     = errors.New("sink write failure")
)

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// CenterY returns the vertical center of the box. Degenerate boxes are not rejected.
func (b Box) CenterY() float64 {
	return (b.Y1 + b.Y2) / 2
}

// Detection is one object observed in one frame, as emitted by the detector/tracker.
type Detection struct {
	Box        Box
	Label      string  // Class name, e.g. "car". May be empty if only ClassID is known.
	ClassID    int     // Raw detector class index
	Confidence float64 // [0, 1]
	TrackID    *int    // nil when the tracker did not assign an identity
}

// Tracked reports whether the detection carries a tracker identity.
func (d Detection) Tracked() bool {
	return d.TrackID != nil
}

// Frame is a single decoded frame at processing resolution plus its detections.
type Frame struct {
	Index      int
	Pix        []byte // RGBA, len = Width*Height*4. May be nil when no pixels are available.
	Width      int
	Height     int
	Detections []Detection
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// IntPtr is a helper for building tracked detections.
func IntPtr(v int) *int {
	return &v
}
