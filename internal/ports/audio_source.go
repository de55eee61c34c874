package ports

import (
	"context"

	"github.com/bnema/meetjot/internal/domain"
)

// AudioSource yields interleaved 16-bit frames. ReadFrames returns io.EOF when
// the source is exhausted.
type AudioSource interface {
	Format() domain.AudioFormat
	ReadFrames(ctx context.Context, buf []int16) (int, error)
	Close() error
}

type AudioSourceFactory interface {
	Open(ctx context.Context, channel domain.Channel) (AudioSource, error)
}
