package ports

import (
	"context"
	"encoding/json"

	"github.com/bnema/meetjot/internal/domain"
)

// DraftRepository is the staging store. UpdateStatus is a compare-and-set:
// it fails with domain.ErrStatusConflict when the stored status is not from.
type DraftRepository interface {
	Insert(ctx context.Context, draft domain.ActionDraft) error
	GetByID(ctx context.Context, id domain.DraftID) (domain.ActionDraft, error)
	List(ctx context.Context, filter domain.DraftFilter) ([]domain.ActionDraft, error)
	UpdateStatus(ctx context.Context, id domain.DraftID, from, to domain.DraftStatus, update domain.StatusUpdate) (domain.ActionDraft, error)
	SetFinalPayload(ctx context.Context, id domain.DraftID, payload json.RawMessage) (domain.ActionDraft, error)
}
