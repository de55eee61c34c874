package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "meetjot.drafts"

// DraftEvent is published on <prefix>.<status> after every staged draft and
// every applied transition.
type DraftEvent struct {
	ID          domain.DraftID     `json:"id"`
	ToolType    domain.ToolType    `json:"tool_type"`
	Status      domain.DraftStatus `json:"status"`
	Title       string             `json:"title"`
	SessionID   string             `json:"session_id,omitempty"`
	ExternalRef string             `json:"external_ref,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type Publisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

var _ ports.EventPublisher = (*Publisher)(nil)

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("meetjot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	publisher := NewPublisher(conn, prefix)
	publisher.owned = true
	return publisher, nil
}

func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject is the subject a draft in status is published on.
func (p *Publisher) Subject(status domain.DraftStatus) string {
	return p.prefix + "." + strings.ToLower(string(status))
}

func (p *Publisher) PublishDraft(ctx context.Context, draft domain.ActionDraft) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(DraftEvent{
		ID:          draft.ID,
		ToolType:    draft.ToolType,
		Status:      draft.Status,
		Title:       draft.Title(),
		SessionID:   draft.SessionID,
		ExternalRef: draft.ExternalRef,
		ErrorDetail: draft.ErrorDetail,
		UpdatedAt:   draft.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal draft event: %w", err)
	}

	if err := p.conn.Publish(p.Subject(draft.Status), data); err != nil {
		return fmt.Errorf("publish draft event: %w", err)
	}
	return nil
}

// Close drains the connection when the publisher dialed it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}
