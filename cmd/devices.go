package cmd

import (
	"fmt"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/spf13/cobra"
)

func newDevicesCmd(a *app) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the configured capture inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			factory := a.captureFactory()
			out := cmd.OutOrStdout()

			if _, err := fmt.Fprintf(out, "input format: %s\n", a.cfg.Capture.InputFormat); err != nil {
				return err
			}
			devices := factory.Devices()
			for _, channel := range []domain.Channel{domain.ChannelMic, domain.ChannelSystem} {
				if _, err := fmt.Fprintf(out, "%s: %s\n", channel, devices[channel]); err != nil {
					return err
				}
			}

			if !probe {
				return nil
			}
			sources, err := factory.Sources(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(out, "available sources:"); err != nil {
				return err
			}
			for _, source := range sources {
				if _, err := fmt.Fprintf(out, "  %s\n", source); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Ask ffmpeg which sources the input format can open")

	return cmd
}
