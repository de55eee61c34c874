package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/meetjot/internal/adapters/httpapi"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the approval API and session control over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			return runServe(cmd.Context(), a, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: http.addr)")

	return cmd
}

func runServe(ctx context.Context, a *app, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recovered, err := a.dispatcher.RecoverIndeterminate(ctx)
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		a.logger.Warn(ctx, "drafts left executing by a previous run moved to error", zap.Int("count", len(recovered)))
	}
	if a.cfg.Execution.AutoDispatch {
		resumed, err := a.dispatcher.ResumeApproved(ctx)
		if err != nil {
			return err
		}
		if resumed > 0 {
			a.logger.Info(ctx, "resumed approved drafts", zap.Int("count", resumed))
		}
	}

	channels, err := a.cfg.CaptureChannels()
	if err != nil {
		return err
	}
	sessions := a.newSessionService(a.captureFactory(), channels)

	server := httpapi.NewServer(httpapi.Options{
		Staging:      a.staging,
		Dispatcher:   a.dispatcher,
		Sessions:     sessions,
		Gatherer:     a.registry,
		AutoDispatch: a.cfg.Execution.AutoDispatch,
	}, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if _, ok := sessions.ActiveSession(); ok {
		if _, err := sessions.StopSession(shutdownCtx); err != nil && !errors.Is(err, domain.ErrNoActiveSession) {
			a.logger.Warn(shutdownCtx, "stop session on shutdown", zap.Error(err))
		}
	}
	return server.Shutdown(shutdownCtx)
}
