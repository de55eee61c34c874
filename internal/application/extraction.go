package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNoCandidateList = errors.New(`answer must be a JSON object with an "actions" array`)

// Candidate is one schema-valid action proposed by extraction.
type Candidate struct {
	ToolType domain.ToolType `json:"tool_type"`
	Payload  json.RawMessage `json:"payload"`
}

func (c Candidate) Title() string {
	return domain.ActionDraft{AIPayload: c.Payload}.Title()
}

type DiscardedCandidate struct {
	ToolType domain.ToolType `json:"tool_type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Reason   string          `json:"reason"`
}

type CandidateSet struct {
	Candidates []Candidate          `json:"candidates"`
	Discarded  []DiscardedCandidate `json:"discarded,omitempty"`
	Duplicates int                  `json:"duplicates"`
	Repaired   bool                 `json:"repaired"`
}

type ExtractionResult struct {
	Drafts     []domain.ActionDraft `json:"drafts"`
	Discarded  []DiscardedCandidate `json:"discarded,omitempty"`
	Duplicates int                  `json:"duplicates"`
	Repaired   bool                 `json:"repaired"`
}

type ExtractionEngine struct {
	reasoner ports.Reasoner
	repo     ports.DraftRepository
	events   ports.EventPublisher
	schemas  domain.SchemaSet
	retry    RetryPolicy
	clock    ports.Clock
	newID    func() string
	logger   *logging.Logger
	metrics  *metrics.Metrics

	// one extraction at a time; later requests queue on the lock
	mu sync.Mutex
}

func NewExtractionEngine(reasoner ports.Reasoner, repo ports.DraftRepository, events ports.EventPublisher, schemas domain.SchemaSet, retry RetryPolicy, clock ports.Clock, logger *logging.Logger, m *metrics.Metrics) *ExtractionEngine {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if events == nil {
		events = ports.NoopPublisher{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &ExtractionEngine{
		reasoner: reasoner,
		repo:     repo,
		events:   events,
		schemas:  schemas,
		retry:    retry,
		clock:    clock,
		newID:    uuid.NewString,
		logger:   logger.Named("extraction"),
		metrics:  m,
	}
}

// Extract turns transcript text into schema-valid candidates. It makes at
// most one repair call, either for an unparseable answer or for the
// candidates that failed validation.
func (e *ExtractionEngine) Extract(ctx context.Context, transcript string, ref domain.ReferenceContext, exclude []string) (CandidateSet, error) {
	if strings.TrimSpace(transcript) == "" {
		return CandidateSet{}, nil
	}

	prompt := e.buildPrompt(transcript, ref, exclude)
	answer, err := e.complete(ctx, prompt)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("call reasoning service: %w", err)
	}

	var set CandidateSet
	items, parseErr := parseCandidateList(answer)
	if parseErr != nil {
		e.logger.Warn(ctx, "extraction answer unparseable, requesting repair", zap.Error(parseErr))
		set.Repaired = true

		answer, err = e.complete(ctx, repairPrompt(prompt, answer, parseErr.Error()))
		if err != nil {
			return CandidateSet{}, fmt.Errorf("call reasoning service for repair: %w", err)
		}
		items, parseErr = parseCandidateList(answer)
		if parseErr != nil {
			reason := fmt.Sprintf("answer still unparseable after repair: %v", parseErr)
			e.discard(ctx, &set, DiscardedCandidate{Reason: reason})
			return set, nil
		}
	}

	var invalid []rawCandidate
	var problems []string
	for _, item := range items {
		candidate, err := e.validate(item, ref)
		if err != nil {
			invalid = append(invalid, item)
			problems = append(problems, err.Error())
			continue
		}
		set.Candidates = append(set.Candidates, candidate)
	}

	if len(invalid) > 0 && set.Repaired {
		for i, item := range invalid {
			e.discard(ctx, &set, DiscardedCandidate{ToolType: domain.ToolType(item.ToolType), Payload: item.Payload, Reason: problems[i]})
		}
	}

	if len(invalid) > 0 && !set.Repaired {
		set.Repaired = true
		e.logger.Info(ctx, "repairing invalid candidates", zap.Int("invalid", len(invalid)))

		answer, err = e.complete(ctx, candidateRepairPrompt(prompt, invalid, problems))
		if err != nil {
			return CandidateSet{}, fmt.Errorf("call reasoning service for repair: %w", err)
		}
		repairedItems, parseErr := parseCandidateList(answer)
		if parseErr != nil {
			for i, item := range invalid {
				reason := fmt.Sprintf("%s; repair answer unparseable: %v", problems[i], parseErr)
				e.discard(ctx, &set, DiscardedCandidate{ToolType: domain.ToolType(item.ToolType), Payload: item.Payload, Reason: reason})
			}
		} else {
			for _, item := range repairedItems {
				candidate, err := e.validate(item, ref)
				if err != nil {
					e.discard(ctx, &set, DiscardedCandidate{ToolType: domain.ToolType(item.ToolType), Payload: item.Payload, Reason: "repair failed: " + err.Error()})
					continue
				}
				e.metrics.Candidate("repaired")
				set.Candidates = append(set.Candidates, candidate)
			}
		}
	}

	e.dropRepeatedCandidates(ctx, &set)
	return set, nil
}

// ExtractAndStage runs Extract against the session transcript and stages every
// new candidate as a PENDING draft. Candidates matching a live draft of the
// same session are skipped. Existing drafts are never modified.
func (e *ExtractionEngine) ExtractAndStage(ctx context.Context, sessionID, transcript string, ref domain.ReferenceContext) (ExtractionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = logging.WithSessionID(ctx, sessionID)

	existing, err := e.sessionDrafts(ctx, sessionID)
	if err != nil {
		return ExtractionResult{}, err
	}
	staged := make(map[string]struct{}, len(existing))
	exclude := make([]string, 0, len(existing))
	for _, draft := range existing {
		// A rejected action may come back as a new draft.
		if draft.Status == domain.StatusRejected {
			continue
		}
		exclude = append(exclude, describeAction(draft.ToolType, draft.EffectivePayload()))
		staged[fingerprint(draft.ToolType, draft.EffectivePayload())] = struct{}{}
	}

	set, err := e.Extract(ctx, transcript, ref, exclude)
	if err != nil {
		return ExtractionResult{}, err
	}

	result := ExtractionResult{Discarded: set.Discarded, Duplicates: set.Duplicates, Repaired: set.Repaired}
	for _, candidate := range set.Candidates {
		key := fingerprint(candidate.ToolType, candidate.Payload)
		if _, ok := staged[key]; ok {
			result.Duplicates++
			e.metrics.Candidate("duplicate")
			e.logger.Info(ctx, "candidate already staged in this session",
				zap.String("tool_type", string(candidate.ToolType)),
				zap.String("title", candidate.Title()),
			)
			continue
		}

		now := e.clock.Now()
		draft := domain.ActionDraft{
			ID:        domain.DraftID(e.newID()),
			ToolType:  candidate.ToolType,
			AIPayload: candidate.Payload,
			Status:    domain.StatusPending,
			SessionID: sessionID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.repo.Insert(ctx, draft); err != nil {
			return result, fmt.Errorf("stage draft: %w", err)
		}
		staged[key] = struct{}{}
		result.Drafts = append(result.Drafts, draft)
		e.metrics.Candidate("staged")

		draftCtx := logging.WithDraftID(ctx, string(draft.ID))
		e.logger.Info(draftCtx, "draft staged", zap.String("tool_type", string(draft.ToolType)), zap.String("title", candidate.Title()))
		if err := e.events.PublishDraft(draftCtx, draft); err != nil {
			e.logger.Warn(draftCtx, "publish draft event", zap.Error(err))
		}
	}

	return result, nil
}

func (e *ExtractionEngine) sessionDrafts(ctx context.Context, sessionID string) ([]domain.ActionDraft, error) {
	if sessionID == "" {
		return nil, nil
	}
	drafts, err := e.repo.List(ctx, domain.DraftFilter{})
	if err != nil {
		return nil, fmt.Errorf("list session drafts: %w", err)
	}

	out := drafts[:0]
	for _, draft := range drafts {
		if draft.SessionID == sessionID {
			out = append(out, draft)
		}
	}
	return out, nil
}

func (e *ExtractionEngine) complete(ctx context.Context, prompt ports.Prompt) (string, error) {
	var answer string
	_, err := e.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		answer, callErr = e.reasoner.Complete(ctx, prompt)
		return callErr
	})
	return answer, err
}

func (e *ExtractionEngine) validate(item rawCandidate, ref domain.ReferenceContext) (Candidate, error) {
	toolType, err := domain.ParseToolType(item.ToolType)
	if err != nil {
		return Candidate{}, err
	}

	payload := ResolveCandidateDates(ref, toolType, item.Payload)
	normalized, err := e.schemas.Normalize(toolType, payload)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{ToolType: toolType, Payload: normalized}, nil
}

func (e *ExtractionEngine) discard(ctx context.Context, set *CandidateSet, discarded DiscardedCandidate) {
	set.Discarded = append(set.Discarded, discarded)
	e.metrics.Candidate("discarded")
	e.logger.Warn(ctx, "candidate discarded",
		zap.String("tool_type", string(discarded.ToolType)),
		zap.String("reason", discarded.Reason),
	)
}

func (e *ExtractionEngine) buildPrompt(transcript string, ref domain.ReferenceContext, exclude []string) ports.Prompt {
	var system strings.Builder
	system.WriteString(extractionInstructions)
	fmt.Fprintf(&system, "\nTICKET payload fields: title (required, max 255 chars), description, priority (one of %s, default %s), issue_type (one of %s, default %s), due_date (YYYY-MM-DD).\n",
		strings.Join(e.schemas.TicketPriorities, ", "), e.schemas.DefaultPriority,
		strings.Join(e.schemas.TicketIssueTypes, ", "), e.schemas.DefaultIssueType,
	)
	fmt.Fprintf(&system, "CALENDAR_EVENT payload fields: title (required), description, start (RFC3339, required), end (RFC3339, defaults to start + %s), timezone (IANA name), location, attendees (email addresses).\n",
		e.schemas.DefaultEventDuration,
	)

	var user strings.Builder
	user.WriteString(PromptBlock(ref))
	if len(exclude) > 0 {
		user.WriteString("\nAlready proposed in this session, do not propose again:\n")
		for _, line := range exclude {
			user.WriteString("- ")
			user.WriteString(line)
			user.WriteByte('\n')
		}
	}
	user.WriteString("\nTranscript:\n")
	user.WriteString(transcript)

	return ports.Prompt{System: system.String(), User: user.String()}
}

const extractionInstructions = `You turn meeting transcripts into actionable items.
Return only a JSON object of the form {"actions": [{"tool_type": "TICKET" | "CALENDAR_EVENT", "payload": {...}}]}.
Return {"actions": []} when nothing is actionable. Only include explicit commitments, tasks, bugs and meetings.
Resolve every relative date using the reference block. Lines like "[gap: ...]" mark audio that could not be transcribed.`

func repairPrompt(prompt ports.Prompt, answer, problem string) ports.Prompt {
	var user strings.Builder
	user.WriteString(prompt.User)
	user.WriteString("\n\nYour previous answer was:\n")
	user.WriteString(answer)
	user.WriteString("\n\nIt was rejected: ")
	user.WriteString(problem)
	user.WriteString("\nAnswer again with only the corrected JSON object.")

	return ports.Prompt{System: prompt.System, User: user.String()}
}

func candidateRepairPrompt(prompt ports.Prompt, invalid []rawCandidate, problems []string) ports.Prompt {
	var user strings.Builder
	user.WriteString(prompt.User)
	user.WriteString("\n\nThese actions failed validation. Fix them and return only the fixed ones in the same JSON object format:\n")
	for i, item := range invalid {
		encoded, _ := json.Marshal(item)
		fmt.Fprintf(&user, "%d. %s\n   error: %s\n", i+1, encoded, problems[i])
	}

	return ports.Prompt{System: prompt.System, User: user.String()}
}

type rawCandidate struct {
	ToolType string          `json:"tool_type"`
	Payload  json.RawMessage `json:"payload"`
}

// parseCandidateList accepts {"actions": [...]}, a bare array, and items
// whose fields sit next to tool_type instead of under payload.
func parseCandidateList(answer string) ([]rawCandidate, error) {
	text := stripCodeFence(answer)
	if text == "" {
		return nil, errNoCandidateList
	}

	var items []json.RawMessage
	switch text[0] {
	case '[':
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("decode action list: %w", err)
		}
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		list, ok := wrapper["actions"]
		if !ok {
			list, ok = wrapper["drafts"]
		}
		if !ok {
			return nil, errNoCandidateList
		}
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, fmt.Errorf("decode action list: %w", err)
		}
	default:
		return nil, errNoCandidateList
	}

	candidates := make([]rawCandidate, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, fmt.Errorf("decode action %d: %w", i, err)
		}

		var toolType string
		if raw, ok := fields["tool_type"]; ok {
			if err := json.Unmarshal(raw, &toolType); err != nil {
				return nil, fmt.Errorf("decode action %d tool_type: %w", i, err)
			}
		}
		delete(fields, "tool_type")

		payload, ok := fields["payload"]
		if !ok {
			encoded, err := json.Marshal(fields)
			if err != nil {
				return nil, fmt.Errorf("encode action %d payload: %w", i, err)
			}
			payload = encoded
		}

		candidates = append(candidates, rawCandidate{ToolType: toolType, Payload: payload})
	}

	return candidates, nil
}

func stripCodeFence(answer string) string {
	text := strings.TrimSpace(answer)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		text = text[newline+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// dropRepeatedCandidates removes candidates that describe the same action as
// an earlier one in the set. Each removal is counted and logged.
func (e *ExtractionEngine) dropRepeatedCandidates(ctx context.Context, set *CandidateSet) {
	seen := make(map[string]struct{}, len(set.Candidates))
	out := make([]Candidate, 0, len(set.Candidates))
	for _, candidate := range set.Candidates {
		key := fingerprint(candidate.ToolType, candidate.Payload)
		if _, ok := seen[key]; ok {
			set.Duplicates++
			e.metrics.Candidate("duplicate")
			e.logger.Info(ctx, "repeated candidate skipped",
				zap.String("tool_type", string(candidate.ToolType)),
				zap.String("title", candidate.Title()),
			)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, candidate)
	}
	set.Candidates = out
}

type actionIdentity struct {
	Title   string `json:"title"`
	DueDate string `json:"due_date"`
	Start   string `json:"start"`
}

// when is the date that tells two same-titled actions apart: the due date
// of a ticket, the start of an event.
func (a actionIdentity) when(toolType domain.ToolType) string {
	if toolType == domain.ToolTypeCalendarEvent {
		if start, err := time.Parse(time.RFC3339, a.Start); err == nil {
			return start.UTC().Format(time.RFC3339)
		}
		return strings.TrimSpace(a.Start)
	}
	return strings.TrimSpace(a.DueDate)
}

func decodeIdentity(payload json.RawMessage) actionIdentity {
	var identity actionIdentity
	_ = json.Unmarshal(payload, &identity)
	return identity
}

func fingerprint(toolType domain.ToolType, payload json.RawMessage) string {
	identity := decodeIdentity(payload)
	title := strings.Join(strings.Fields(strings.ToLower(identity.Title)), " ")
	return string(toolType) + "|" + title + "|" + identity.when(toolType)
}

func describeAction(toolType domain.ToolType, payload json.RawMessage) string {
	identity := decodeIdentity(payload)
	if when := identity.when(toolType); when != "" {
		return fmt.Sprintf("[%s] %s (%s)", toolType, identity.Title, when)
	}
	return fmt.Sprintf("[%s] %s", toolType, identity.Title)
}
