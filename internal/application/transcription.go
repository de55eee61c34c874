package application

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type TranscriptionClient struct {
	stt     ports.SpeechToText
	retry   RetryPolicy
	clock   ports.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewTranscriptionClient(stt ports.SpeechToText, retry RetryPolicy, clock ports.Clock, logger *logging.Logger, m *metrics.Metrics) *TranscriptionClient {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &TranscriptionClient{
		stt:     stt,
		retry:   retry,
		clock:   clock,
		logger:  logger.Named("transcription"),
		metrics: m,
	}
}

// Transcribe never fails: a segment that cannot be transcribed within the
// retry budget becomes a gap chunk. Silence yields a chunk with empty text.
func (c *TranscriptionClient) Transcribe(ctx context.Context, segment domain.AudioSegment) domain.TranscriptChunk {
	ctx = logging.WithSessionID(ctx, segment.SessionID)
	chunk := domain.TranscriptChunk{
		Window:    segment.Window,
		Channel:   segment.Channel,
		StartedAt: segment.StartedAt,
		EndedAt:   segment.EndedAt,
	}

	started := c.clock.Now()
	var text string
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = c.stt.Transcribe(ctx, segment)
		return callErr
	})
	c.metrics.Transcribed(c.clock.Now().Sub(started))

	if err != nil {
		chunk.Gap = true
		chunk.GapReason = err.Error()
		c.metrics.Gap(string(segment.Channel))
		c.logger.Warn(ctx, "segment dropped, recording transcript gap",
			zap.Int("window", segment.Window),
			zap.String("channel", string(segment.Channel)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return chunk
	}

	chunk.Text = strings.TrimSpace(text)
	c.logger.Debug(ctx, "segment transcribed",
		zap.Int("window", segment.Window),
		zap.String("channel", string(segment.Channel)),
		zap.Int("chars", len(chunk.Text)),
	)
	return chunk
}

// TranscribeWindow transcribes the parallel segments of one window and
// returns their chunks in channel priority order, SYSTEM first.
func (c *TranscriptionClient) TranscribeWindow(ctx context.Context, segments []domain.AudioSegment) []domain.TranscriptChunk {
	chunks := make([]domain.TranscriptChunk, len(segments))

	var g errgroup.Group
	for i, segment := range segments {
		g.Go(func() error {
			chunks[i] = c.Transcribe(ctx, segment)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortStableFunc(chunks, func(a, b domain.TranscriptChunk) int {
		return cmp.Compare(a.Channel.Priority(), b.Channel.Priority())
	})
	return chunks
}
