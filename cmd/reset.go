package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/tally/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetRuns    bool
	resetOutputs bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset stored state (saved runs, annotated output videos)",
	Long:        "Clears stored data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetRuns && !resetOutputs {
			resetRuns = true
			resetOutputs = true
		}

		reader := bufio.NewReader(os.Stdin)

		// Outputs first: their paths live in the runs table.
		if resetOutputs {
			if resetYes || confirm(reader, "⚠️  Are you sure you want to delete the annotated videos of all saved runs?") {
				fmt.Println("🗑️  Clearing Output Videos...")
				runs, err := DB.ListRuns(cmd.Context(), 0)
				if err != nil {
					utils.ShowError("Failed to list runs", err, nil)
					return err
				}
				paths := make([]string, 0, len(runs))
				for _, r := range runs {
					paths = append(paths, r.OutputPath)
				}
				n := removeOutputs(os.Stderr, paths)
				fmt.Printf("   Removed %d file(s)\n", n)
			}
		}

		if resetRuns {
			if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetRuns, "runs", false, "Drop the saved runs from PostgreSQL")
	resetCmd.Flags().BoolVar(&resetOutputs, "outputs", false, "Delete the annotated videos referenced by saved runs")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeOutputs deletes each distinct file once; files already gone are not an error.
func removeOutputs(warn io.Writer, paths []string) int {
	seen := make(map[string]bool, len(paths))
	removed := 0
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(warn, "⚠️  Failed to remove %s: %v\n", p, err)
			}
			continue
		}
		removed++
	}
	return removed
}
