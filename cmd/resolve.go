package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/spf13/cobra"
)

// Calendar entries without a time of day start at this hour.
const defaultEventHour = 9

func newResolveCmd(a *app) *cobra.Command {
	var referenceDate string

	cmd := &cobra.Command{
		Use:   "resolve <expression>",
		Short: "Resolve a relative date expression against the reference date",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := referenceContext(a, referenceDate)
			if err != nil {
				return err
			}

			expr := strings.Join(args, " ")
			if date, err := ref.ResolveDate(expr); err == nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), date.Format(domain.DateLayout))
				return err
			}

			at, err := ref.ResolveDateTime(expr, defaultEventHour)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), at.Format(time.RFC3339))
			return err
		},
	}

	cmd.Flags().StringVar(&referenceDate, "reference-date", "", "Reference date as YYYY-MM-DD (default: today)")

	return cmd
}

func referenceContext(a *app, referenceDate string) (domain.ReferenceContext, error) {
	if strings.TrimSpace(referenceDate) == "" {
		return a.resolver.Reference(), nil
	}

	date, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(referenceDate), a.location)
	if err != nil {
		return domain.ReferenceContext{}, fmt.Errorf("parse --reference-date: %w", err)
	}
	return a.resolver.At(date), nil
}
