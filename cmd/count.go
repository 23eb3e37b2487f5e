package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/tally/internal/counter"
	"github.com/andresmejia3/tally/internal/detector"
	"github.com/andresmejia3/tally/internal/metrics"
	"github.com/andresmejia3/tally/internal/runloop"
	"github.com/andresmejia3/tally/internal/store"
	"github.com/andresmejia3/tally/internal/types"
	"github.com/andresmejia3/tally/internal/utils"
	"github.com/andresmejia3/tally/internal/video"
	"github.com/andresmejia3/tally/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var countOpts Options

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count vehicles crossing a horizontal line and write an annotated video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		_, err := runCount(cmd.Context(), countOpts, os.Stdout)
		return err
	},
}

func init() {
	countCmd.Flags().StringVarP(&countOpts.InputPath, "input", "i", "", "Path to input video")
	countCmd.Flags().StringVarP(&countOpts.OutputPath, "output", "o", "output.mp4", "Path to save annotated video")
	countCmd.Flags().StringVarP(&countOpts.Model, "model", "m", "yolov8n.pt", "YOLO model path or name")
	countCmd.Flags().StringVar(&countOpts.Tracker, "tracker", "bytetrack.yaml", "Tracker configuration passed to the detector")
	countCmd.Flags().Float64VarP(&countOpts.Confidence, "conf", "c", 0.4, "Detection confidence threshold")
	countCmd.Flags().Float64VarP(&countOpts.LineFraction, "line", "l", 0.5, "Counting line position as a fraction of frame height (0-1)")
	countCmd.Flags().IntVarP(&countOpts.MaxWidth, "resize", "r", 1280, "Max width for processing (keeps aspect ratio)")
	countCmd.Flags().StringToStringVar(&countOpts.Classes, "classes", nil, "Class map overrides, e.g. bicycle=bicycle,van=car (empty category drops a label)")
	countCmd.Flags().StringVar(&countOpts.DetectionsPath, "detections", "", "Replay detections from a JSON lines file instead of running the model")
	countCmd.Flags().StringVar(&countOpts.RecordPath, "record", "", "Write the model's detections to a JSON lines file for later replay")
	countCmd.Flags().StringVar(&countOpts.WorkerTimeout, "worker-timeout", "30s", "Timeout for the detector to process a single frame")
	countCmd.Flags().BoolVar(&countOpts.Save, "save", false, "Persist the run and its tallies to PostgreSQL")
	countCmd.Flags().StringVar(&countOpts.Label, "label", "", "Label stored with the run (e.g. survey site)")
	countCmd.Flags().StringVar(&countOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	countCmd.Flags().BoolVar(&countOpts.NoProgress, "no-progress", false, "Disable the progress bar")

	countCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(countCmd)
}

// runCount orchestrates a counting run: probing, detector startup, FFmpeg streaming, counting and reporting.
func runCount(ctx context.Context, opts Options, stdout io.Writer) (*runloop.Report, error) {
	if err := validateCountFlags(&opts); err != nil {
		return nil, err
	}
	log := Log
	if log == nil {
		log = newDiscardLogger()
	}

	mapper, err := counter.ParseClassMap(opts.Classes)
	if err != nil {
		err = fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
		utils.ShowError("Invalid class map", err, nil)
		return nil, err
	}

	info, err := video.Probe(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read video metadata", err, nil)
		return nil, err
	}

	geom, err := counter.ComputeGeometry(info.Width, info.Height, opts.MaxWidth, opts.LineFraction)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"source": fmt.Sprintf("%dx%d", geom.SourceWidth, geom.SourceHeight),
		"size":   fmt.Sprintf("%dx%d", geom.Width, geom.Height),
		"scale":  geom.Scale,
		"line_y": geom.LineY,
		"rotate": info.Rotation,
	}).Info("geometry computed")

	// Connect before any frame is processed so a bad DSN fails fast
	if opts.Save {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return nil, err
		}
	}

	var m *metrics.Metrics
	if opts.MetricsAddr != "" {
		m = metrics.New()
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := m.Serve(metricsCtx, opts.MetricsAddr); err != nil {
				log.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	}

	det, err := buildDetector(ctx, opts, geom)
	if err != nil {
		return nil, err
	}

	decoder, err := video.StartDecoder(ctx, opts.InputPath, geom.Width, geom.Height)
	if err != nil {
		det.Close()
		utils.ShowError("Failed to start decoder", err, nil)
		return nil, err
	}
	stream := detector.NewStream(decoder, det)
	streamClosed := false
	closeStream := func() error {
		if streamClosed {
			return nil
		}
		streamClosed = true
		return stream.Close()
	}
	defer closeStream()

	// The encoder must survive Ctrl+C so the partial video is finalized
	encoder, err := video.StartEncoder(context.WithoutCancel(ctx), opts.OutputPath, info.FPS, geom.Width, geom.Height)
	if err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return nil, err
	}

	totalFrames := info.TotalFrames
	if totalFrames <= 0 && !opts.NoProgress {
		totalFrames = video.CountFrames(ctx, opts.InputPath)
	}
	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	barOut := io.Writer(os.Stderr)
	if opts.NoProgress {
		barOut = io.Discard
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("🚗 Counting"),
		progressbar.OptionSetWriter(barOut),
		progressbar.OptionShowCount(),
	)

	loop := runloop.New(geom, mapper, log)
	loop.Hooks.OnFrame = func(types.Frame) {
		bar.Add(1)
		if m != nil {
			m.FramesProcessed.Add(1)
		}
	}
	if m != nil {
		loop.Hooks.OnDecision = func(cat counter.Category, d counter.Decision) {
			if d == counter.Ignored {
				m.IgnoredDetections.Add(1)
				return
			}
			m.VehicleDetections.Add(1)
			if d.Incremented() {
				m.Counted(string(cat), d == counter.Counted)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "🚦 Counting line at y=%d of %dx%d (scale %.3f)\n", geom.LineY, geom.Width, geom.Height, geom.Scale)
	rep, runErr := loop.Run(ctx, stream, encoder)
	// The decoder and worker exit statuses are only known once they are reaped
	if cerr := closeStream(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if runErr != nil && !rep.Interrupted {
		switch {
		case errors.Is(runErr, types.ErrDetectorFailure):
			var py *utils.SafeCommand
			if p, ok := unwrapPython(det); ok {
				py = p.W.Cmd
			}
			utils.ShowError("Detector failed", runErr, py)
		case errors.Is(runErr, types.ErrSinkWriteFailure):
			utils.ShowError("Failed to write output video", runErr, encoder.Command())
		case errors.Is(runErr, types.ErrSourceReadFailure):
			utils.ShowError("Failed to decode input video", runErr, decoder.Command())
		default:
			utils.ShowError("Counting failed", runErr, decoder.Command())
		}
		// No partial counts are reported on fatal failure
		return nil, runErr
	}

	if rep.Interrupted {
		fmt.Fprintf(os.Stderr, "⚠️  Interrupted after %d frames. Partial output saved to %s\n", rep.Frames, opts.OutputPath)
	}
	printReport(stdout, rep, opts.OutputPath)

	if opts.Save {
		id, err := saveRun(context.WithoutCancel(ctx), DB, opts, geom, rep)
		if err != nil {
			utils.ShowError("Failed to save run", err, nil)
			return rep, err
		}
		fmt.Fprintf(stdout, "💾 Saved run %s\n", id)
	}

	return rep, runErr
}

// buildDetector picks replay or the Python tracker, optionally wrapped in a recorder.
func buildDetector(ctx context.Context, opts Options, geom counter.Geometry) (detector.Detector, error) {
	if opts.DetectionsPath != "" {
		f, err := os.Open(opts.DetectionsPath)
		if err != nil {
			err = fmt.Errorf("%w: %v", types.ErrSourceNotFound, err)
			utils.ShowError("Failed to open detections file", err, nil)
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "📂 Replaying detections from %s\n", filepath.Base(opts.DetectionsPath))
		return detector.NewReplay(f, geom), nil
	}

	timeout, _ := time.ParseDuration(opts.WorkerTimeout)
	fmt.Fprintln(os.Stderr, "🚀 Warming up detector...")
	py, err := detector.NewPython(ctx, worker.TrackConfig{
		Model:       opts.Model,
		Tracker:     opts.Tracker,
		Confidence:  opts.Confidence,
		Width:       geom.Width,
		Height:      geom.Height,
		ReadTimeout: timeout,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", types.ErrDetectorFailure, err)
		utils.ShowError("Detector startup failed", err, nil)
		return nil, err
	}
	if opts.RecordPath == "" {
		return py, nil
	}

	f, err := os.Create(opts.RecordPath)
	if err != nil {
		py.Close()
		utils.ShowError("Failed to create detections file", err, nil)
		return nil, err
	}
	return detector.NewRecorder(py, f, geom), nil
}

// unwrapPython finds the Python detector behind a recorder, for crash log reporting.
func unwrapPython(d detector.Detector) (*detector.Python, bool) {
	switch v := d.(type) {
	case *detector.Python:
		return v, true
	case *detector.Recorder:
		return unwrapPython(v.Inner())
	}
	return nil, false
}

// printReport writes the final tallies in category order.
func printReport(w io.Writer, rep *runloop.Report, outputPath string) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 COUNT SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "Output saved to %s\n", outputPath)
	fmt.Fprintf(w, "Elapsed (s): %.2f\n", rep.Elapsed.Seconds())
	fmt.Fprintf(w, "Frames:      %d\n\n", rep.Frames)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tCOUNT\tUNIQUE TRACKS")
	fmt.Fprintln(tw, "--------\t-----\t-------------")
	total := 0
	for _, c := range rep.Categories {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", c, rep.Tallies[c], rep.UniqueTracks[c])
		total += rep.Tallies[c]
	}
	fmt.Fprintf(tw, "total\t%d\t\n", total)
	tw.Flush()
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// runFromReport converts a finished run into its stored form.
func runFromReport(opts Options, videoID string, geom counter.Geometry, rep *runloop.Report) store.Run {
	// Absolute so `reset --outputs` finds the file from any directory
	outAbs, err := filepath.Abs(opts.OutputPath)
	if err != nil {
		outAbs = opts.OutputPath
	}
	run := store.Run{
		VideoID:      videoID,
		VideoPath:    opts.InputPath,
		OutputPath:   outAbs,
		Label:        opts.Label,
		Model:        opts.Model,
		Confidence:   opts.Confidence,
		LineFraction: opts.LineFraction,
		Width:        geom.Width,
		Height:       geom.Height,
		LineY:        geom.LineY,
		Frames:       rep.Frames,
		Elapsed:      rep.Elapsed,
		Interrupted:  rep.Interrupted,
	}
	if opts.DetectionsPath != "" {
		run.Model = "replay:" + filepath.Base(opts.DetectionsPath)
	}
	for _, c := range rep.Categories {
		run.Tallies = append(run.Tallies, store.Tally{
			Category:     string(c),
			Count:        rep.Tallies[c],
			UniqueTracks: rep.UniqueTracks[c],
		})
	}
	return run
}

func saveRun(ctx context.Context, db *store.Store, opts Options, geom counter.Geometry, rep *runloop.Report) (string, error) {
	videoID, err := utils.GenerateVideoID(opts.InputPath)
	if err != nil {
		return "", err
	}
	absPath, _ := filepath.Abs(opts.InputPath)
	if err := db.EnsureVideoMetadata(ctx, videoID, absPath); err != nil {
		return "", err
	}
	id, err := db.SaveRun(ctx, runFromReport(opts, videoID, geom, rep))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// validateCountFlags ensures all CLI arguments are valid before starting heavy processes.
func validateCountFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", types.ErrSourceNotFound, opts.InputPath)
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("%w: %s is a directory", types.ErrSourceNotFound, opts.InputPath)
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if opts.OutputPath == "" || inAbs == outAbs {
		err := fmt.Errorf("%w: output path must be set and differ from the input", types.ErrInvalidConfiguration)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.Confidence <= 0 || opts.Confidence > 1.0 {
		err := fmt.Errorf("%w: must be between 0.0 and 1.0, got %f", types.ErrInvalidConfiguration, opts.Confidence)
		utils.ShowError("Invalid confidence threshold", err, nil)
		return err
	}

	if opts.LineFraction < 0 || opts.LineFraction > 1.0 {
		err := fmt.Errorf("%w: must be between 0.0 and 1.0, got %f", types.ErrInvalidConfiguration, opts.LineFraction)
		utils.ShowError("Invalid line position", err, nil)
		return err
	}

	if opts.MaxWidth <= 0 {
		err := fmt.Errorf("%w: must be positive, got %d", types.ErrInvalidConfiguration, opts.MaxWidth)
		utils.ShowError("Invalid resize width", err, nil)
		return err
	}

	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		err = fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
		utils.ShowError("Invalid worker-timeout format (use '30s', '1m')", err, nil)
		return err
	}

	if opts.DetectionsPath != "" && opts.RecordPath != "" {
		err := fmt.Errorf("%w: --detections and --record cannot be combined", types.ErrInvalidConfiguration)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	return nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
