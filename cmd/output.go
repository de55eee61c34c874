package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	draftsrender "github.com/bnema/meetjot/internal/adapters/render/drafts"
	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeDrafts(cmd *cobra.Command, a *app, drafts []domain.ActionDraft, detail bool) error {
	rendered, err := a.draftRenderer(drafts, draftsrender.RenderOptions{
		Now:    a.now(),
		Detail: detail,
		Width:  terminalWidth(cmd.OutOrStdout()),
	})
	if err != nil {
		return fmt.Errorf("render drafts: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func writeCommandResult(cmd *cobra.Command, command string, result application.CommandResult) error {
	draft := result.Draft
	if !result.Applied() {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: no change, draft %s is %s\n", command, draft.ID, draft.Status)
		return err
	}

	line := fmt.Sprintf("%s: draft %s is now %s", command, draft.ID, draft.Status)
	switch {
	case draft.ExternalRef != "":
		line += fmt.Sprintf(" (%s)", draft.ExternalRef)
	case draft.Status == domain.StatusError && draft.ErrorDetail != "":
		line += fmt.Sprintf(": %s", draft.ErrorDetail)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
	return err
}
