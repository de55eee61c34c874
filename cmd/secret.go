package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/spf13/cobra"
)

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials referenced by speech.api_key_ref, ticket.token_ref and friends",
	}

	cmd.AddCommand(newSecretSetCmd(a), newSecretDeleteCmd(a), newSecretListCmd(a))

	return cmd
}

func newSecretSetCmd(a *app) *cobra.Command {
	var key string
	var value string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.secretStore.Put(cmd.Context(), key, value); err != nil {
				return fmt.Errorf("store secret %q: %w", key, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Secret reference, e.g. openai/api_key")
	cmd.Flags().StringVar(&value, "value", "", "Secret value")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func newSecretDeleteCmd(a *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.secretStore.Delete(cmd.Context(), key); err != nil {
				return fmt.Errorf("delete secret %q: %w", key, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Secret reference")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

// newSecretListCmd shows where each credential resolves from. Values are
// never printed.
func newSecretListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show configured and stored credential references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			usedBy := map[string][]string{}
			for component, ref := range map[string]string{
				"speech":    a.cfg.Speech.APIKeyRef,
				"reasoning": a.cfg.Reasoning.APIKeyRef,
				"ticket":    a.cfg.Ticket.TokenRef,
				"calendar":  a.cfg.Calendar.TokenRef,
			} {
				normalized, err := domain.NormalizeSecretRef(ref)
				if err != nil {
					continue
				}
				usedBy[normalized] = append(usedBy[normalized], component)
			}

			refs, err := a.secretStore.Keys(ctx)
			if err != nil {
				return err
			}
			for ref := range usedBy {
				refs = append(refs, ref)
			}
			slices.Sort(refs)
			refs = slices.Compact(refs)

			out := cmd.OutOrStdout()
			for _, ref := range refs {
				source, err := a.secretStore.Locate(ctx, ref)
				if errors.Is(err, domain.ErrSecretNotFound) {
					source = "missing"
				} else if err != nil {
					return err
				}

				components := usedBy[ref]
				slices.Sort(components)
				line := fmt.Sprintf("%-24s %-8s", ref, source)
				if len(components) > 0 {
					line += " " + strings.Join(components, ", ")
				}
				if _, err := fmt.Fprintln(out, strings.TrimRight(line, " ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
