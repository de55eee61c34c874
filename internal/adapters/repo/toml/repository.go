package toml

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	draftsFileMode  = 0o600
	draftsDirMode   = 0o700
	tempFilePattern = ".drafts-*.toml.tmp"
)

// Repository keeps drafts in a single TOML file replaced atomically on every
// write. It is safe for concurrent use inside one process only.
type Repository struct {
	draftsPath string
	mu         *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.DraftRepository = (*Repository)(nil)

func NewRepository(path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("drafts path is empty")
	}
	draftsPath, err := normalizeDraftsPath(path)
	if err != nil {
		return nil, err
	}

	return &Repository{draftsPath: draftsPath, mu: lockForPath(draftsPath)}, nil
}

func (r *Repository) Insert(ctx context.Context, draft domain.ActionDraft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if draft.Status != domain.StatusPending {
		return fmt.Errorf("%w: new drafts must be %s, got %s", domain.ErrInvalidState, domain.StatusPending, draft.Status)
	}
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = draft.CreatedAt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}
	for _, entry := range file.Drafts {
		if entry.ID == string(draft.ID) {
			return fmt.Errorf("%w: %s", domain.ErrDraftExists, draft.ID)
		}
	}

	file.Drafts = append(file.Drafts, toSchema(draft))

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) GetByID(ctx context.Context, id domain.DraftID) (domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionDraft{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.ActionDraft{}, err
	}

	for _, entry := range file.Drafts {
		if entry.ID == string(id) {
			return fromSchema(entry), nil
		}
	}

	return domain.ActionDraft{}, fmt.Errorf("%w: %s", domain.ErrDraftNotFound, id)
}

func (r *Repository) List(ctx context.Context, filter domain.DraftFilter) ([]domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	drafts := make([]domain.ActionDraft, 0, len(file.Drafts))
	for _, entry := range file.Drafts {
		draft := fromSchema(entry)
		if filter.Matches(draft.Status) {
			drafts = append(drafts, draft)
		}
	}

	slices.SortStableFunc(drafts, func(a, b domain.ActionDraft) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return drafts, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id domain.DraftID, from, to domain.DraftStatus, update domain.StatusUpdate) (domain.ActionDraft, error) {
	if update.At.IsZero() {
		update.At = time.Now()
	}

	return r.mutate(ctx, id, func(draft *domain.ActionDraft) error {
		return draft.ApplyTransition(from, to, update)
	})
}

func (r *Repository) SetFinalPayload(ctx context.Context, id domain.DraftID, payload json.RawMessage) (domain.ActionDraft, error) {
	if len(payload) == 0 {
		return domain.ActionDraft{}, fmt.Errorf("%w: final payload is empty", domain.ErrInvalidPayload)
	}

	return r.mutate(ctx, id, func(draft *domain.ActionDraft) error {
		if draft.Status != domain.StatusPending {
			return fmt.Errorf("%w: draft %s is %s, expected %s", domain.ErrStatusConflict, id, draft.Status, domain.StatusPending)
		}
		draft.FinalPayload = payload
		draft.UpdatedAt = time.Now()
		return nil
	})
}

// mutate reads, changes and rewrites one draft under the write lock.
func (r *Repository) mutate(ctx context.Context, id domain.DraftID, change func(*domain.ActionDraft) error) (domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionDraft{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.ActionDraft{}, err
	}

	for i := range file.Drafts {
		if file.Drafts[i].ID != string(id) {
			continue
		}

		draft := fromSchema(file.Drafts[i])
		if err := change(&draft); err != nil {
			return domain.ActionDraft{}, err
		}
		file.Drafts[i] = toSchema(draft)

		if err := ctx.Err(); err != nil {
			return domain.ActionDraft{}, err
		}
		if err := r.writeSchema(file); err != nil {
			return domain.ActionDraft{}, err
		}
		return draft, nil
	}

	return domain.ActionDraft{}, fmt.Errorf("%w: %s", domain.ErrDraftNotFound, id)
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.draftsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read drafts file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode drafts file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizeDraftsPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve drafts path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.draftsPath), draftsDirMode); err != nil {
		return fmt.Errorf("create drafts directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode drafts file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.draftsPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp drafts file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp drafts file: %w", err)
	}

	if err := tempFile.Chmod(draftsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp drafts file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp drafts file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp drafts file: %w", err)
	}

	if err := os.Rename(tempName, r.draftsPath); err != nil {
		return fmt.Errorf("replace drafts file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(draft domain.ActionDraft) draftSchema {
	return draftSchema{
		ID:           string(draft.ID),
		ToolType:     string(draft.ToolType),
		Status:       string(draft.Status),
		AIPayload:    string(draft.AIPayload),
		FinalPayload: string(draft.FinalPayload),
		ErrorDetail:  draft.ErrorDetail,
		ExternalRef:  draft.ExternalRef,
		SessionID:    draft.SessionID,
		CreatedAt:    formatTime(draft.CreatedAt),
		UpdatedAt:    formatTime(draft.UpdatedAt),
	}
}

func fromSchema(entry draftSchema) domain.ActionDraft {
	draft := domain.ActionDraft{
		ID:          domain.DraftID(entry.ID),
		ToolType:    domain.ToolType(entry.ToolType),
		Status:      domain.DraftStatus(entry.Status),
		AIPayload:   json.RawMessage(entry.AIPayload),
		ErrorDetail: entry.ErrorDetail,
		ExternalRef: entry.ExternalRef,
		SessionID:   entry.SessionID,
		CreatedAt:   parseTime(entry.CreatedAt),
		UpdatedAt:   parseTime(entry.UpdatedAt),
	}
	if entry.FinalPayload != "" {
		draft.FinalPayload = json.RawMessage(entry.FinalPayload)
	}

	return draft
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
