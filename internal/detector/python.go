package detector

import (
	"context"

	"github.com/andresmejia3/tally/internal/types"
	"github.com/andresmejia3/tally/internal/worker"
)

// Python runs detection and tracking in the Python worker process.
type Python struct {
	W *worker.PythonWorker
}

// NewPython starts the tracker worker for frames of the configured size.
func NewPython(ctx context.Context, cfg worker.TrackConfig) (*Python, error) {
	w, err := worker.NewPythonTrackWorker(ctx, 0, cfg)
	if err != nil {
		return nil, err
	}
	return &Python{W: w}, nil
}

func (p *Python) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	return p.W.ProcessFrame(frame.Pix)
}

func (p *Python) Close() error {
	return p.W.Close()
}
