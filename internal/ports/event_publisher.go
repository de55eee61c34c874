package ports

import (
	"context"

	"github.com/bnema/meetjot/internal/domain"
)

type EventPublisher interface {
	PublishDraft(ctx context.Context, draft domain.ActionDraft) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishDraft(context.Context, domain.ActionDraft) error {
	return nil
}
