package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
)

// CommandResult is the draft as it stands after a command.
type CommandResult struct {
	Draft   domain.ActionDraft `json:"draft"`
	Outcome Outcome            `json:"outcome"`
}

func (r CommandResult) Applied() bool {
	return r.Outcome == OutcomeApplied
}

// StagingService applies approval interface commands to staged drafts.
// Every transition is a compare-and-set in the repository, so duplicate or
// concurrent commands resolve to a single applied result and no-ops.
type StagingService struct {
	repo    ports.DraftRepository
	events  ports.EventPublisher
	schemas domain.SchemaSet
	clock   ports.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewStagingService(repo ports.DraftRepository, events ports.EventPublisher, schemas domain.SchemaSet, clock ports.Clock, logger *logging.Logger, m *metrics.Metrics) *StagingService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if events == nil {
		events = ports.NoopPublisher{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &StagingService{
		repo:    repo,
		events:  events,
		schemas: schemas,
		clock:   clock,
		logger:  logger.Named("staging"),
		metrics: m,
	}
}

// ListDrafts returns drafts ordered by creation time.
func (s *StagingService) ListDrafts(ctx context.Context, filter domain.DraftFilter) ([]domain.ActionDraft, error) {
	drafts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return drafts, nil
}

func (s *StagingService) GetDraft(ctx context.Context, id domain.DraftID) (domain.ActionDraft, error) {
	draft, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.ActionDraft{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	return draft, nil
}

// EditDraft replaces the final payload of a PENDING draft.
func (s *StagingService) EditDraft(ctx context.Context, id domain.DraftID, payload json.RawMessage) (CommandResult, error) {
	ctx = logging.WithDraftID(ctx, string(id))

	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return CommandResult{}, err
	}
	if draft.Status.Terminal() {
		return noop(draft), nil
	}
	if draft.Status != domain.StatusPending {
		return CommandResult{}, invalidState("edit", draft)
	}

	normalized, err := s.schemas.Normalize(draft.ToolType, payload)
	if err != nil {
		return CommandResult{}, err
	}

	updated, err := s.repo.SetFinalPayload(ctx, id, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return s.afterConflict(ctx, "edit", id)
		}
		return CommandResult{}, fmt.Errorf("set final payload: %w", err)
	}

	s.logger.Info(ctx, "draft edited")
	s.publish(ctx, updated)
	return CommandResult{Draft: updated, Outcome: OutcomeApplied}, nil
}

// ApproveDraft moves a PENDING draft to APPROVED, optionally with a payload
// override. Approving a draft that is already approved, executing or
// terminal is a no-op.
func (s *StagingService) ApproveDraft(ctx context.Context, id domain.DraftID, override json.RawMessage) (CommandResult, error) {
	ctx = logging.WithDraftID(ctx, string(id))

	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return CommandResult{}, err
	}

	switch draft.Status {
	case domain.StatusPending:
	case domain.StatusError:
		return CommandResult{}, invalidState("approve", draft)
	default:
		return noop(draft), nil
	}

	update := domain.StatusUpdate{At: s.clock.Now()}
	if len(override) > 0 {
		normalized, err := s.schemas.Normalize(draft.ToolType, override)
		if err != nil {
			return CommandResult{}, err
		}
		update.FinalPayload = normalized
	}

	return s.transition(ctx, "approve", draft, domain.StatusApproved, update)
}

func (s *StagingService) RejectDraft(ctx context.Context, id domain.DraftID) (CommandResult, error) {
	ctx = logging.WithDraftID(ctx, string(id))

	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return CommandResult{}, err
	}
	if draft.Status.Terminal() {
		return noop(draft), nil
	}
	if draft.Status != domain.StatusPending {
		return CommandResult{}, invalidState("reject", draft)
	}

	return s.transition(ctx, "reject", draft, domain.StatusRejected, domain.StatusUpdate{At: s.clock.Now()})
}

// RetryDraft re-enters the execution path from ERROR. The caller is
// expected to have confirmed the external side effect did not happen.
func (s *StagingService) RetryDraft(ctx context.Context, id domain.DraftID) (CommandResult, error) {
	ctx = logging.WithDraftID(ctx, string(id))

	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return CommandResult{}, err
	}
	if draft.Status.Terminal() {
		return noop(draft), nil
	}
	if draft.Status != domain.StatusError {
		return CommandResult{}, invalidState("retry", draft)
	}

	return s.transition(ctx, "retry", draft, domain.StatusApproved, domain.StatusUpdate{At: s.clock.Now()})
}

func (s *StagingService) transition(ctx context.Context, command string, draft domain.ActionDraft, to domain.DraftStatus, update domain.StatusUpdate) (CommandResult, error) {
	updated, err := s.repo.UpdateStatus(ctx, draft.ID, draft.Status, to, update)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return s.afterConflict(ctx, command, draft.ID)
		}
		return CommandResult{}, fmt.Errorf("%s draft: %w", command, err)
	}

	s.metrics.Transition(string(draft.Status), string(to))
	s.logger.Info(ctx, "draft "+command+" applied",
		zap.String("from", string(draft.Status)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, updated)
	return CommandResult{Draft: updated, Outcome: OutcomeApplied}, nil
}

// afterConflict re-reads a draft that moved under a command. Losing the
// race is a no-op, never an error.
func (s *StagingService) afterConflict(ctx context.Context, command string, id domain.DraftID) (CommandResult, error) {
	current, err := s.GetDraft(ctx, id)
	if err != nil {
		return CommandResult{}, err
	}
	s.logger.Debug(ctx, "draft changed concurrently, command is a no-op",
		zap.String("command", command),
		zap.String("status", string(current.Status)),
	)
	return noop(current), nil
}

func (s *StagingService) publish(ctx context.Context, draft domain.ActionDraft) {
	if err := s.events.PublishDraft(ctx, draft); err != nil {
		s.logger.Warn(ctx, "publish draft event", zap.Error(err))
	}
}

func noop(draft domain.ActionDraft) CommandResult {
	return CommandResult{Draft: draft, Outcome: OutcomeNoop}
}

func invalidState(command string, draft domain.ActionDraft) error {
	return fmt.Errorf("%w: cannot %s draft %s in status %s", domain.ErrInvalidState, command, draft.ID, draft.Status)
}
