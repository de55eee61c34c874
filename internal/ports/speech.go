package ports

import (
	"context"

	"github.com/bnema/meetjot/internal/domain"
)

type SpeechToText interface {
	Transcribe(ctx context.Context, segment domain.AudioSegment) (string, error)
}
