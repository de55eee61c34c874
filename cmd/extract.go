package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/meetjot/internal/application"
	"github.com/spf13/cobra"
)

func newExtractCmd(a *app) *cobra.Command {
	var transcriptPath string
	var referenceDate string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract actions from a transcript file and stage them as drafts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transcript, err := os.ReadFile(transcriptPath)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			if strings.TrimSpace(string(transcript)) == "" {
				return fmt.Errorf("transcript %s is empty", transcriptPath)
			}

			ref, err := referenceContext(a, referenceDate)
			if err != nil {
				return err
			}

			// Re-running on the same file skips actions it already staged.
			sessionID := "transcript:" + filepath.Base(transcriptPath)

			var result application.ExtractionResult
			extract := func(ctx context.Context) error {
				var err error
				result, err = a.extractor.ExtractAndStage(ctx, sessionID, string(transcript), ref)
				return err
			}

			if asJSON {
				if err := extract(cmd.Context()); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}

			if err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), "Extracting actions", extract); err != nil {
				return err
			}
			return writeExtractionResult(cmd, a, result)
		},
	}

	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Transcript text file")
	cmd.Flags().StringVar(&referenceDate, "reference-date", "", "Reference date as YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	_ = cmd.MarkFlagRequired("transcript")

	return cmd
}

func writeExtractionResult(cmd *cobra.Command, a *app, result application.ExtractionResult) error {
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(out, "staged %d draft(s), %d duplicate(s), %d discarded\n", len(result.Drafts), result.Duplicates, len(result.Discarded)); err != nil {
		return err
	}
	for _, discarded := range result.Discarded {
		if _, err := fmt.Fprintf(out, "discarded %s: %s\n", discarded.ToolType, discarded.Reason); err != nil {
			return err
		}
	}
	if len(result.Drafts) == 0 {
		return nil
	}
	return writeDrafts(cmd, a, result.Drafts, false)
}
