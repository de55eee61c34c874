package ports

import (
	"context"
	"encoding/json"

	"github.com/bnema/meetjot/internal/domain"
)

// Integration commits one draft payload to an external system and returns the
// reference the external system assigned. Errors wrapping domain.ErrTransient
// may be retried.
type Integration interface {
	ToolType() domain.ToolType
	Commit(ctx context.Context, id domain.DraftID, payload json.RawMessage) (string, error)
}
