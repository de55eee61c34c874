package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/bnema/meetjot/internal/adapters/audio/wavfile"
	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run capture sessions",
	}

	cmd.AddCommand(newSessionRunCmd(a))

	return cmd
}

type sessionRunOptions struct {
	channels     []string
	duration     time.Duration
	replayMic    string
	replaySystem string
	asJSON       bool
}

func newSessionRunCmd(a *app) *cobra.Command {
	var opts sessionRunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture a meeting until interrupted, then stage the extracted drafts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, a, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.channels, "channel", nil, "Channel to capture: mic or system (repeatable, default: capture.channels)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (default: until Ctrl+C)")
	cmd.Flags().StringVar(&opts.replayMic, "replay-mic", "", "Replay a 16-bit PCM WAV file as the mic channel")
	cmd.Flags().StringVar(&opts.replaySystem, "replay-system", "", "Replay a 16-bit PCM WAV file as the system channel")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Render JSON output")

	return cmd
}

func runSession(cmd *cobra.Command, a *app, opts sessionRunOptions) error {
	sources, channels, err := sessionSources(a, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service := a.newSessionService(sources, channels)
	info, err := service.StartSession(ctx, nil)
	if err != nil {
		return err
	}
	if !opts.asJSON {
		if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "session %s capturing %v, press Ctrl+C to stop\n", info.ID, info.Channels); err != nil {
			return err
		}
	}

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
	case <-info.Ended():
	case <-deadline:
	}

	var summary application.SessionSummary
	finish := func(ctx context.Context) error {
		var err error
		summary, err = service.StopSession(ctx)
		return err
	}

	var stopErr error
	if opts.asJSON {
		stopErr = finish(context.WithoutCancel(ctx))
	} else {
		stopErr = runWithSpinner(context.WithoutCancel(ctx), cmd.ErrOrStderr(), "Finishing transcription and extracting actions", finish)
	}
	if stopErr != nil && summary.SessionID == "" {
		return stopErr
	}

	if opts.asJSON {
		if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else if err := writeSessionSummary(cmd, a, summary); err != nil {
		return err
	}
	return stopErr
}

func sessionSources(a *app, opts sessionRunOptions) (ports.AudioSourceFactory, []domain.Channel, error) {
	requested := make([]domain.Channel, 0, len(opts.channels))
	for _, raw := range opts.channels {
		channel, err := domain.ParseChannel(raw)
		if err != nil {
			return nil, nil, err
		}
		requested = append(requested, channel)
	}

	if opts.replayMic != "" || opts.replaySystem != "" {
		replay := wavfile.NewFactory(map[domain.Channel]string{
			domain.ChannelMic:    opts.replayMic,
			domain.ChannelSystem: opts.replaySystem,
		})
		channels := replay.Channels()
		if len(requested) > 0 {
			channels = slices.DeleteFunc(channels, func(c domain.Channel) bool {
				return !slices.Contains(requested, c)
			})
			if len(channels) == 0 {
				return nil, nil, errors.New("no replay file matches the requested channels")
			}
		}
		return replay, channels, nil
	}

	if len(requested) > 0 {
		return a.captureFactory(), requested, nil
	}
	channels, err := a.cfg.CaptureChannels()
	if err != nil {
		return nil, nil, err
	}
	return a.captureFactory(), channels, nil
}

func writeSessionSummary(cmd *cobra.Command, a *app, summary application.SessionSummary) error {
	out := cmd.OutOrStdout()
	duration := summary.EndedAt.Sub(summary.StartedAt).Round(time.Second)
	if _, err := fmt.Fprintf(out, "session %s: %s, %d segment(s), %d gap(s), %d draft(s) staged\n",
		summary.SessionID, duration, summary.Segments, summary.Gaps, summary.DraftsCreated); err != nil {
		return err
	}
	if summary.CaptureError != "" {
		if _, err := fmt.Fprintf(out, "capture stopped early: %s\n", summary.CaptureError); err != nil {
			return err
		}
	}
	for _, discarded := range summary.Discarded {
		if _, err := fmt.Fprintf(out, "discarded %s: %s\n", discarded.ToolType, discarded.Reason); err != nil {
			return err
		}
	}
	if len(summary.Drafts) == 0 {
		return nil
	}
	return writeDrafts(cmd, a, summary.Drafts, false)
}
