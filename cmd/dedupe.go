package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/dedupe"
)

// newDedupeCmd creates the 'dedupe' subcommand: offline exact dedup over
// JSONL files, keep-first.
func newDedupeCmd() *cobra.Command {
	var (
		input  string
		all    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Removes exact duplicates from JSONL output",
		Long: `Streams a JSONL file (or every .jsonl under the output root with
--all) and keeps the first record per dedup key. Surviving lines are
written byte-identical to a new file; the input is never modified.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			switch {
			case all:
				outDir := output
				if outDir == "" {
					outDir = filepath.Join(cfg.Output.Root, "dedup")
				}
				stats, err := dedupe.All(cfg.Output.Root, outDir, logger)
				if err != nil {
					return fmt.Errorf("dedupe all: %w", err)
				}
				logger.Info("dedupe finished",
					zap.Int("total", stats.Total),
					zap.Int("written", stats.Written),
					zap.Int("duplicates", stats.Duplicates))
			case input != "":
				outPath := output
				if outPath == "" {
					outPath = deduppedName(input)
				}
				stats, err := dedupe.File(input, outPath, logger)
				if err != nil {
					return fmt.Errorf("dedupe %s: %w", input, err)
				}
				logger.Info("dedupe finished",
					zap.String("output", outPath),
					zap.Int("total", stats.Total),
					zap.Int("written", stats.Written),
					zap.Int("duplicates", stats.Duplicates),
					zap.Int("parse_errors", stats.ParseErrors))
			default:
				return fmt.Errorf("either --input or --all is required")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "JSONL file to deduplicate")
	cmd.Flags().BoolVar(&all, "all", false, "deduplicate every .jsonl under the output root")
	cmd.Flags().StringVar(&output, "output", "", "output file (or directory with --all)")
	return cmd
}

func deduppedName(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".dedup" + ext
}
