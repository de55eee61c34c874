package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"go.uber.org/zap"
)

const IndeterminateDetail = "execution was interrupted; the external side effect may already have happened. Check the target system before retrying."

var errDispatcherClosed = errors.New("execution dispatcher is closed")

// ExecutionDispatcher commits APPROVED drafts to their integration. The
// APPROVED to EXECUTING compare-and-set is the only claim, so at most one
// dispatch acts on a draft even across processes.
type ExecutionDispatcher struct {
	repo         ports.DraftRepository
	integrations map[domain.ToolType]ports.Integration
	events       ports.EventPublisher
	retry        RetryPolicy
	callTimeout  time.Duration
	clock        ports.Clock
	logger       *logging.Logger
	metrics      *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewExecutionDispatcher(repo ports.DraftRepository, integrations []ports.Integration, events ports.EventPublisher, retry RetryPolicy, callTimeout time.Duration, clock ports.Clock, logger *logging.Logger, m *metrics.Metrics) *ExecutionDispatcher {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if events == nil {
		events = ports.NoopPublisher{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	byType := make(map[domain.ToolType]ports.Integration, len(integrations))
	for _, integration := range integrations {
		if integration == nil {
			continue
		}
		byType[integration.ToolType()] = integration
	}

	return &ExecutionDispatcher{
		repo:         repo,
		integrations: byType,
		events:       events,
		retry:        retry,
		callTimeout:  callTimeout,
		clock:        clock,
		logger:       logger.Named("dispatcher"),
		metrics:      m,
	}
}

// Execute commits one APPROVED draft. Any other status, or losing the claim
// to a concurrent dispatch, is a no-op. Integration failures end in ERROR
// and are reported through the returned draft, not as an error.
func (d *ExecutionDispatcher) Execute(ctx context.Context, id domain.DraftID) (CommandResult, error) {
	ctx = logging.WithDraftID(ctx, string(id))

	draft, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return CommandResult{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	if draft.Status != domain.StatusApproved {
		return noop(draft), nil
	}

	claimed, err := d.repo.UpdateStatus(ctx, id, domain.StatusApproved, domain.StatusExecuting, domain.StatusUpdate{At: d.clock.Now()})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			current, getErr := d.repo.GetByID(ctx, id)
			if getErr != nil {
				return CommandResult{}, fmt.Errorf("get draft %s: %w", id, getErr)
			}
			d.logger.Debug(ctx, "draft already claimed", zap.String("status", string(current.Status)))
			return noop(current), nil
		}
		return CommandResult{}, fmt.Errorf("claim draft: %w", err)
	}
	d.metrics.Transition(string(domain.StatusApproved), string(domain.StatusExecuting))
	d.publish(ctx, claimed)

	// Once EXECUTING the call runs to completion or timeout regardless of
	// the caller.
	runCtx := context.WithoutCancel(ctx)
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.callTimeout)
		defer cancel()
	}

	started := d.clock.Now()
	ref, attempts, commitErr := d.commit(runCtx, claimed)
	elapsed := d.clock.Now().Sub(started)

	finishCtx := context.WithoutCancel(ctx)
	if commitErr != nil {
		d.metrics.Executed(string(claimed.ToolType), "error", elapsed)
		d.logger.Warn(ctx, "execution failed",
			zap.String("tool_type", string(claimed.ToolType)),
			zap.Int("attempts", attempts),
			zap.Error(commitErr),
		)
		return d.finish(finishCtx, claimed, domain.StatusError, domain.StatusUpdate{
			ErrorDetail: errorDetail(commitErr, attempts),
			At:          d.clock.Now(),
		})
	}

	d.metrics.Executed(string(claimed.ToolType), "executed", elapsed)
	d.logger.Info(ctx, "draft executed",
		zap.String("tool_type", string(claimed.ToolType)),
		zap.String("external_ref", ref),
		zap.Int("attempts", attempts),
	)
	return d.finish(finishCtx, claimed, domain.StatusExecuted, domain.StatusUpdate{
		ExternalRef: ref,
		At:          d.clock.Now(),
	})
}

func (d *ExecutionDispatcher) commit(ctx context.Context, draft domain.ActionDraft) (string, int, error) {
	integration, ok := d.integrations[draft.ToolType]
	if !ok {
		return "", 0, fmt.Errorf("no integration configured for %s", draft.ToolType)
	}

	payload := draft.EffectivePayload()
	var ref string
	attempts, err := d.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		ref, callErr = integration.Commit(ctx, draft.ID, payload)
		return callErr
	})
	return ref, attempts, err
}

func (d *ExecutionDispatcher) finish(ctx context.Context, draft domain.ActionDraft, to domain.DraftStatus, update domain.StatusUpdate) (CommandResult, error) {
	updated, err := d.repo.UpdateStatus(ctx, draft.ID, domain.StatusExecuting, to, update)
	if err != nil {
		return CommandResult{}, fmt.Errorf("record execution outcome %s: %w", to, err)
	}

	d.metrics.Transition(string(domain.StatusExecuting), string(to))
	d.publish(ctx, updated)
	return CommandResult{Draft: updated, Outcome: OutcomeApplied}, nil
}

// RecoverIndeterminate marks every draft left in EXECUTING as ERROR. It must
// run before this process dispatches anything, since such drafts belong to a
// run that died mid-call.
func (d *ExecutionDispatcher) RecoverIndeterminate(ctx context.Context) ([]domain.ActionDraft, error) {
	stuck, err := d.repo.List(ctx, domain.DraftFilter{Statuses: []domain.DraftStatus{domain.StatusExecuting}})
	if err != nil {
		return nil, fmt.Errorf("list executing drafts: %w", err)
	}

	recovered := make([]domain.ActionDraft, 0, len(stuck))
	for _, draft := range stuck {
		draftCtx := logging.WithDraftID(ctx, string(draft.ID))
		updated, err := d.repo.UpdateStatus(draftCtx, draft.ID, domain.StatusExecuting, domain.StatusError, domain.StatusUpdate{
			ErrorDetail: IndeterminateDetail,
			At:          d.clock.Now(),
		})
		if err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				continue
			}
			return recovered, fmt.Errorf("mark draft %s indeterminate: %w", draft.ID, err)
		}

		d.metrics.Transition(string(domain.StatusExecuting), string(domain.StatusError))
		d.logger.Warn(draftCtx, "draft found executing at startup, marked as error")
		d.publish(draftCtx, updated)
		recovered = append(recovered, updated)
	}

	return recovered, nil
}

// Enqueue executes id in the background. Results are observable through the
// repository and draft events.
func (d *ExecutionDispatcher) Enqueue(ctx context.Context, id domain.DraftID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDispatcherClosed
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if _, err := d.Execute(context.WithoutCancel(ctx), id); err != nil {
			d.logger.Error(logging.WithDraftID(ctx, string(id)), "background execution", zap.Error(err))
		}
	}()
	return nil
}

// ResumeApproved enqueues drafts that were approved before a restart.
func (d *ExecutionDispatcher) ResumeApproved(ctx context.Context) (int, error) {
	approved, err := d.repo.List(ctx, domain.DraftFilter{Statuses: []domain.DraftStatus{domain.StatusApproved}})
	if err != nil {
		return 0, fmt.Errorf("list approved drafts: %w", err)
	}
	for _, draft := range approved {
		if err := d.Enqueue(ctx, draft.ID); err != nil {
			return 0, err
		}
	}
	return len(approved), nil
}

// Close stops accepting work and waits for in-flight executions.
func (d *ExecutionDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
}

func (d *ExecutionDispatcher) publish(ctx context.Context, draft domain.ActionDraft) {
	if err := d.events.PublishDraft(ctx, draft); err != nil {
		d.logger.Warn(ctx, "publish draft event", zap.Error(err))
	}
}

func errorDetail(err error, attempts int) string {
	switch {
	case errors.Is(err, domain.ErrRejectedByTarget):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %d attempt(s); the external side effect may have happened: %v", attempts, err)
	case errors.Is(err, domain.ErrTransient):
		return fmt.Sprintf("gave up after %d attempt(s): %v", attempts, err)
	default:
		return err.Error()
	}
}
