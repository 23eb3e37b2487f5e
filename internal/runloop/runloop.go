// Package runloop drives one counting run: pull frames, count, render, write.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/andresmejia3/tally/internal/counter"
	"github.com/andresmejia3/tally/internal/detector"
	"github.com/andresmejia3/tally/internal/render"
	"github.com/andresmejia3/tally/internal/types"
	"github.com/sirupsen/logrus"
)

// Sink receives annotated frames. video.Encoder satisfies it.
type Sink interface {
	WriteFrame(img *image.RGBA) error
	Close() error
}

// Hooks lets callers observe progress without the loop knowing about UI or metrics.
type Hooks struct {
	OnFrame    func(frame types.Frame)
	OnDecision func(cat counter.Category, d counter.Decision)
}

// Report is the outcome of a run.
type Report struct {
	Categories   []counter.Category
	Tallies      map[counter.Category]int
	UniqueTracks map[counter.Category]int
	Frames       int
	Detections   int
	Elapsed      time.Duration
	Interrupted  bool
}

// Loop wires the counter, renderer and sink for a fixed geometry.
type Loop struct {
	Geometry counter.Geometry
	Counter  *counter.CrossingCounter
	Renderer *render.Renderer
	Log      logrus.FieldLogger
	Hooks    Hooks
}

// New creates a loop whose counting line comes from g.
func New(g counter.Geometry, mapper *counter.ClassMapper, log logrus.FieldLogger) *Loop {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Loop{
		Geometry: g,
		Counter:  counter.NewCrossingCounter(mapper, g.LineY),
		Renderer: render.New(),
		Log:      log,
	}
}

// Run consumes src until it is exhausted, an error occurs or ctx is cancelled.
// The sink is always closed; on cancellation the frames written so far are flushed
// and the partial report is returned together with ctx.Err().
func (l *Loop) Run(ctx context.Context, src detector.Source, sink Sink) (rep *Report, err error) {
	start := time.Now()
	state := l.Counter.NewState()
	categories := l.Counter.Mapper().Categories()
	rep = &Report{Categories: categories}

	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
			if !errors.Is(err, types.ErrSinkWriteFailure) {
				err = fmt.Errorf("%w: %v", types.ErrSinkWriteFailure, cerr)
			}
		}
		rep.Tallies = state.Snapshot()
		rep.UniqueTracks = make(map[counter.Category]int, len(categories))
		for _, c := range categories {
			rep.UniqueTracks[c] = len(state.Seen[c])
		}
		rep.Elapsed = time.Since(start)
	}()

	var anns []render.Annotation
	for {
		frame, nerr := src.Next(ctx)
		if errors.Is(nerr, io.EOF) {
			return rep, nil
		}
		if nerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				rep.Interrupted = true
				l.Log.WithField("frames", rep.Frames).Warn("run interrupted, flushing output")
				return rep, ctxErr
			}
			return rep, nerr
		}

		if frame.Width != l.Geometry.Width || frame.Height != l.Geometry.Height {
			return rep, fmt.Errorf("%w: frame %d is %dx%d, run geometry is %dx%d", types.ErrInvalidConfiguration,
				frame.Index, frame.Width, frame.Height, l.Geometry.Width, l.Geometry.Height)
		}

		anns = anns[:0]
		for _, d := range frame.Detections {
			cat, decision := l.Counter.Observe(state, d)
			if l.Hooks.OnDecision != nil {
				l.Hooks.OnDecision(cat, decision)
			}
			if decision == counter.Ignored {
				continue
			}
			rep.Detections++
			if decision.Incremented() {
				entry := l.Log.WithFields(logrus.Fields{
					"frame":    frame.Index,
					"category": cat,
					"tally":    state.Tallies[cat],
				})
				if d.TrackID != nil {
					entry = entry.WithField("track", *d.TrackID)
				}
				entry.Debug(decision.String())
			}
			anns = append(anns, render.Annotation{Box: d.Box, Category: cat, Confidence: d.Confidence})
		}

		img := frameImage(frame)
		l.Renderer.Draw(img, anns, l.Geometry.LineY, render.StatusLine(categories, state.Tallies))
		if werr := sink.WriteFrame(img); werr != nil {
			if !errors.Is(werr, types.ErrSinkWriteFailure) {
				werr = fmt.Errorf("%w: %v", types.ErrSinkWriteFailure, werr)
			}
			return rep, werr
		}

		rep.Frames++
		if l.Hooks.OnFrame != nil {
			l.Hooks.OnFrame(frame)
		}
	}
}

// frameImage wraps the frame pixels without copying. Frames without pixels get a blank canvas.
func frameImage(f types.Frame) *image.RGBA {
	if len(f.Pix) >= f.Width*f.Height*4 {
		return &image.RGBA{
			Pix:    f.Pix[:f.Width*f.Height*4],
			Stride: f.Width * 4,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}
	}
	return image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
}
