package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/tally/internal/types"
	"github.com/andresmejia3/tally/internal/utils" // Using the SafeCommand wrapper
)

// DefaultScript is the tracker entry point, relative to the working directory.
const DefaultScript = "python/tracker.py"

// TrackConfig configures the Python detector/tracker process.
type TrackConfig struct {
	Script      string        // Defaults to DefaultScript
	Model       string        // e.g. "yolov8n.pt"
	Tracker     string        // Ultralytics tracker config, e.g. "bytetrack.yaml"
	Confidence  float64       // Detection confidence threshold
	Width       int           // Frame width the worker receives
	Height      int           // Frame height the worker receives
	ReadTimeout time.Duration // Max time to wait for one frame's result. 0 disables.
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonTrackWorker starts the tracker. The model is loaded once and tracker state
// persists across frames for the lifetime of the process.
func NewPythonTrackWorker(ctx context.Context, id int, cfg TrackConfig) (*PythonWorker, error) {
	script := cfg.Script
	if script == "" {
		script = DefaultScript
	}
	tracker := cfg.Tracker
	if tracker == "" {
		tracker = "bytetrack.yaml"
	}

	py := utils.NewSafeCommand(ctx, "python3", "-u", script,
		"--model", cfg.Model,
		"--tracker", tracker,
		"--conf", strconv.FormatFloat(cfg.Confidence, 'f', -1, 64),
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
	)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("worker %d timed out after %s", w.ID, w.ReadTimeout)
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends one RGBA frame and decodes the tracked detections.
func (w *PythonWorker) ProcessFrame(data []byte) ([]types.Detection, error) {
	resp, err := w.Communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeDetections(resp)
}

// decodeDetections parses a worker reply.
//
//	OK:    [Status:0] [Count:u32] Count x ( [Box:4xf32] [Conf:f32] [Class:i32] [Track:i32] [LabelLen:u16] [Label] )
//	Error: [Status:1] [MsgLen:u32] [Msg]
//
// Track is -1 when the tracker has not assigned an identity.
func decodeDetections(resp []byte) ([]types.Detection, error) {
	buf := bytes.NewReader(resp)
	status, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response")
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(buf, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("python worker error (unreadable)")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(buf, msg); err != nil {
			return nil, fmt.Errorf("python worker error (truncated)")
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}

	var count uint32
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read detection count: %w", err)
	}
	// Each record is at least 30 bytes; reject counts the payload cannot hold
	if uint64(count)*30 > uint64(buf.Len()) {
		return nil, fmt.Errorf("detection count %d exceeds payload", count)
	}

	dets := make([]types.Detection, 0, count)
	for i := uint32(0); i < count; i++ {
		var rec struct {
			Box   [4]float32
			Conf  float32
			Class int32
			Track int32
		}
		if err := binary.Read(buf, binary.BigEndian, &rec); err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		var labelLen uint16
		if err := binary.Read(buf, binary.BigEndian, &labelLen); err != nil {
			return nil, fmt.Errorf("detection %d label length: %w", i, err)
		}
		label := make([]byte, labelLen)
		if _, err := io.ReadFull(buf, label); err != nil {
			return nil, fmt.Errorf("detection %d label: %w", i, err)
		}

		d := types.Detection{
			Box: types.Box{
				X1: float64(rec.Box[0]),
				Y1: float64(rec.Box[1]),
				X2: float64(rec.Box[2]),
				Y2: float64(rec.Box[3]),
			},
			Label:      string(label),
			ClassID:    int(rec.Class),
			Confidence: math.Round(float64(rec.Conf)*1e6) / 1e6,
		}
		if rec.Track >= 0 {
			d.TrackID = types.IntPtr(int(rec.Track))
		}
		dets = append(dets, d)
	}
	return dets, nil
}

// Close ends the worker's input and reaps it. A non-zero exit is returned.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		return fmt.Errorf("worker %d exited: %w", w.ID, err)
	}
	return nil
}
