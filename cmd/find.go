package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/tally/internal/counter"
	"github.com/andresmejia3/tally/internal/store"
	"github.com/andresmejia3/tally/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:         "report <run_id>",
	Short:       "Show the tallies of a saved run (full id or unique prefix)",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReport(cmd.Context(), args[0], os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

// resolveRunID accepts a full UUID or the short prefix printed by `tally runs`.
func resolveRunID(ctx context.Context, db *store.Store, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return uuid.Nil, fmt.Errorf("empty run id")
	}

	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		return uuid.Nil, err
	}
	var match []uuid.UUID
	for _, r := range runs {
		if strings.HasPrefix(r.ID.String(), ref) {
			match = append(match, r.ID)
		}
	}
	switch len(match) {
	case 0:
		return uuid.Nil, store.ErrRunNotFound
	case 1:
		return match[0], nil
	default:
		return uuid.Nil, fmt.Errorf("run id prefix %q is ambiguous (%d matches)", ref, len(match))
	}
}

func runReport(ctx context.Context, ref string, out io.Writer) error {
	id, err := resolveRunID(ctx, DB, ref)
	if err != nil {
		utils.ShowError("Unknown run", err, nil)
		return err
	}

	run, err := DB.GetRun(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load run", err, nil)
		return err
	}
	printRunDetail(out, run)
	return nil
}

func printRunDetail(out io.Writer, run store.Run) {
	fmt.Fprintf(out, "Run:        %s\n", run.ID)
	if run.Label != "" {
		fmt.Fprintf(out, "Label:      %s\n", run.Label)
	}
	fmt.Fprintf(out, "Video:      %s\n", run.VideoPath)
	fmt.Fprintf(out, "Output:     %s\n", run.OutputPath)
	fmt.Fprintf(out, "Model:      %s (conf %.2f)\n", run.Model, run.Confidence)
	fmt.Fprintf(out, "Geometry:   %dx%d, line y=%d (%.2f)\n", run.Width, run.Height, run.LineY, run.LineFraction)
	fmt.Fprintf(out, "Frames:     %d in %s\n", run.Frames, fmtTime(run.Elapsed.Seconds()))
	if run.Interrupted {
		fmt.Fprintln(out, "Status:     interrupted (partial counts)")
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nCATEGORY\tCOUNT\tUNIQUE TRACKS")
	fmt.Fprintln(w, "--------\t-----\t-------------")
	for _, t := range orderTallies(run.Tallies) {
		fmt.Fprintf(w, "%s\t%d\t%d\n", t.Category, t.Count, t.UniqueTracks)
	}
	fmt.Fprintf(w, "total\t%d\t\n", run.Total())
	w.Flush()
}

// orderTallies puts stored tallies back in the canonical report order.
func orderTallies(tallies []store.Tally) []store.Tally {
	labels := make(map[string]counter.Category, len(tallies))
	byCat := make(map[string]store.Tally, len(tallies))
	for _, t := range tallies {
		labels[t.Category] = counter.Category(t.Category)
		byCat[t.Category] = t
	}

	out := make([]store.Tally, 0, len(tallies))
	for _, c := range counter.NewClassMapper(labels, nil).Categories() {
		out = append(out, byCat[string(c)])
	}
	return out
}
