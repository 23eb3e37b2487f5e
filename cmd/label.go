package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/tally/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <run_id> <label>",
	Short:       "Attach a label (e.g. survey site) to a saved run",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLabel(cmd.Context(), args[0], args[1], os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, ref, label string, out io.Writer) error {
	label = strings.TrimSpace(label)
	if label == "" {
		err := fmt.Errorf("label must not be empty")
		utils.ShowError("Invalid label", err, nil)
		return err
	}

	id, err := resolveRunID(ctx, DB, ref)
	if err != nil {
		utils.ShowError("Unknown run", err, nil)
		return err
	}

	if err := DB.LabelRun(ctx, id, label); err != nil {
		utils.ShowError("Failed to label run", err, nil)
		return err
	}

	fmt.Fprintf(out, "✅ Run %s labeled as '%s'\n", id.String()[:8], label)
	return nil
}
