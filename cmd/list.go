package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/tally/internal/store"
	"github.com/andresmejia3/tally/internal/utils"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List saved counting runs",
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		runs, err := DB.ListRuns(cmd.Context(), listLimit)
		if err != nil {
			utils.ShowError("Failed to list runs", err, nil)
			return err
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of runs to show (0 = all)")
	rootCmd.AddCommand(listCmd)
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tVIDEO\tLABEL\tTOTAL\tDURATION\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----\t-----\t--------\t-------")

	for _, r := range runs {
		label := r.Label
		if label == "" {
			label = "-"
		}
		total := fmt.Sprintf("%d", r.Total())
		if r.Interrupted {
			total += " (partial)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID.String()[:8], filepath.Base(r.VideoPath), label, total,
			fmtTime(r.Elapsed.Seconds()), r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
