package cmd

import (
	"github.com/spf13/cobra"
)

const skipWireAnnotation = "meetjot/skip-wire"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "mj",
		Short:         "meetjot (mj): turn meeting audio into staged tickets and calendar events",
		Long:          "mj captures meeting audio, transcribes it, extracts ticket and calendar actions into a staging store, and executes them against external systems once a human approves.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipWireAnnotation] == "true" {
				return nil
			}
			wired, err := wireApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			*a = *wired
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $HOME/.config/meetjot/config.toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newDevicesCmd(a),
		newResolveCmd(a),
		newExtractCmd(a),
		newSessionCmd(a),
		newDraftsCmd(a),
		newSecretCmd(a),
		newServeCmd(a),
	)

	return rootCmd
}
