package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/spf13/cobra"
)

func newDraftsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drafts",
		Aliases: []string{"draft"},
		Short:   "Review, edit, approve and execute staged drafts",
	}

	cmd.AddCommand(
		newDraftsListCmd(a),
		newDraftsShowCmd(a),
		newDraftsEditCmd(a),
		newDraftsApproveCmd(a),
		newDraftsRejectCmd(a),
		newDraftsRetryCmd(a),
		newDraftsExecuteCmd(a),
		newDraftsRecoverCmd(a),
	)

	return cmd
}

func newDraftsListCmd(a *app) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List drafts, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter domain.DraftFilter
			for _, raw := range statuses {
				status, err := domain.ParseStatus(raw)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			drafts, err := a.staging.ListDrafts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				if drafts == nil {
					drafts = []domain.ActionDraft{}
				}
				return writeJSON(cmd.OutOrStdout(), drafts)
			}
			return writeDrafts(cmd, a, drafts, false)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only drafts in these statuses (repeatable or comma separated)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newDraftsShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one draft with its payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := a.staging.GetDraft(cmd.Context(), domain.DraftID(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), draft)
			}
			return writeDrafts(cmd, a, []domain.ActionDraft{draft}, true)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newDraftsEditCmd(a *app) *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace the payload of a pending draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload)
			if err != nil {
				return err
			}

			result, err := a.staging.EditDraft(cmd.Context(), domain.DraftID(args[0]), raw)
			if err != nil {
				return err
			}
			return writeCommandResult(cmd, "edit", result)
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Payload JSON, or @file to read it from a file")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

func newDraftsApproveCmd(a *app) *cobra.Command {
	var payload string
	var noExec bool

	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending draft and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var override json.RawMessage
			if payload != "" {
				raw, err := readPayload(payload)
				if err != nil {
					return err
				}
				override = raw
			}

			result, err := a.staging.ApproveDraft(cmd.Context(), domain.DraftID(args[0]), override)
			if err != nil {
				return err
			}
			if err := writeCommandResult(cmd, "approve", result); err != nil {
				return err
			}
			return executeAfter(cmd, a, result, noExec)
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Override payload JSON, or @file")
	cmd.Flags().BoolVar(&noExec, "no-exec", false, "Leave the draft APPROVED without executing it")

	return cmd
}

func newDraftsRejectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.staging.RejectDraft(cmd.Context(), domain.DraftID(args[0]))
			if err != nil {
				return err
			}
			return writeCommandResult(cmd, "reject", result)
		},
	}
}

func newDraftsRetryCmd(a *app) *cobra.Command {
	var noExec bool

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Send a failed draft back for execution",
		Long:  "retry moves an ERROR draft back to APPROVED. Check the target system first: a failed call may still have created the item.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.staging.RetryDraft(cmd.Context(), domain.DraftID(args[0]))
			if err != nil {
				return err
			}
			if err := writeCommandResult(cmd, "retry", result); err != nil {
				return err
			}
			return executeAfter(cmd, a, result, noExec)
		},
	}

	cmd.Flags().BoolVar(&noExec, "no-exec", false, "Leave the draft APPROVED without executing it")

	return cmd
}

func newDraftsExecuteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <id>",
		Short: "Execute an approved draft against its target system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeDraft(cmd, a, domain.DraftID(args[0]))
		},
	}
}

func newDraftsRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Mark drafts left EXECUTING by a crashed process as ERROR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recovered, err := a.dispatcher.RecoverIndeterminate(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "recovered %d draft(s)\n", len(recovered)); err != nil {
				return err
			}
			for _, draft := range recovered {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", draft.ID, draft.ErrorDetail); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// executeAfter runs the draft right away after an applied approve or retry.
// The CLI process exits afterwards, so execution is synchronous here.
func executeAfter(cmd *cobra.Command, a *app, result application.CommandResult, noExec bool) error {
	if noExec || !a.cfg.Execution.AutoDispatch || !result.Applied() || result.Draft.Status != domain.StatusApproved {
		return nil
	}
	return executeDraft(cmd, a, result.Draft.ID)
}

func executeDraft(cmd *cobra.Command, a *app, id domain.DraftID) error {
	result, err := a.dispatcher.Execute(cmd.Context(), id)
	if err != nil {
		return err
	}
	if err := writeCommandResult(cmd, "execute", result); err != nil {
		return err
	}
	if result.Draft.Status == domain.StatusError {
		return fmt.Errorf("draft %s failed: %s", id, result.Draft.ErrorDetail)
	}
	return nil
}

func readPayload(value string) (json.RawMessage, error) {
	value = strings.TrimSpace(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		value = strings.TrimSpace(string(data))
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", domain.ErrInvalidPayload)
	}
	return json.RawMessage(value), nil
}
