package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/dedupe"
)

// newMergeCmd creates the 'merge' subcommand: fold a new batch into an
// existing deduplicated JSONL file.
func newMergeCmd() *cobra.Command {
	var (
		existing string
		batch    string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merges a new JSONL batch into an existing file",
		Long: `Reads the existing file and the batch, drops records whose dedup key
is already present (existing records win), and writes the union sorted
by published date then id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			outPath := output
			if outPath == "" {
				outPath = existing
			}
			kept, dropped, err := dedupe.Merge(existing, batch, outPath, logger)
			if err != nil {
				return fmt.Errorf("merge: %w", err)
			}
			logger.Info("merge finished",
				zap.String("output", outPath),
				zap.Int("kept", kept),
				zap.Int("dropped", dropped))
			return nil
		},
	}

	cmd.Flags().StringVar(&existing, "existing", "", "existing deduplicated JSONL file")
	cmd.Flags().StringVar(&batch, "batch", "", "new batch JSONL file")
	cmd.Flags().StringVar(&output, "output", "", "output path (default overwrites --existing)")
	_ = cmd.MarkFlagRequired("existing")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}
