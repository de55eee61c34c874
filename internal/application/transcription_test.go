package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func testSegment(window int, channel domain.Channel) domain.AudioSegment {
	started := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC).Add(time.Duration(window) * 30 * time.Second)
	return domain.AudioSegment{
		SessionID: "session-1",
		Window:    window,
		Channel:   channel,
		Format:    domain.AudioFormat{SampleRate: 48000, Channels: 1},
		Samples:   make([]int16, 480),
		StartedAt: started,
		EndedAt:   started.Add(30 * time.Second),
	}
}

func TestTranscriptionClientReturnsTrimmedText(t *testing.T) {
	stt := mocks.NewMockSpeechToText(t)
	segment := testSegment(0, domain.ChannelMic)
	stt.EXPECT().Transcribe(mockAnyContext(), mock.Anything).Return("  create a bug ticket \n", nil).Once()
	client := NewTranscriptionClient(stt, testRetry(3), nil, logging.NewTestLogger().Logger, nil)

	chunk := client.Transcribe(context.Background(), segment)

	assert.False(t, chunk.Gap)
	assert.Equal(t, "create a bug ticket", chunk.Text)
	assert.Equal(t, segment.StartedAt, chunk.StartedAt)
	assert.Equal(t, domain.ChannelMic, chunk.Channel)
}

func TestTranscriptionClientSilenceIsNotAGap(t *testing.T) {
	stt := mocks.NewMockSpeechToText(t)
	stt.EXPECT().Transcribe(mockAnyContext(), mock.Anything).Return("", nil).Once()
	client := NewTranscriptionClient(stt, testRetry(3), nil, nil, nil)

	chunk := client.Transcribe(context.Background(), testSegment(0, domain.ChannelMic))

	assert.False(t, chunk.Gap)
	assert.Empty(t, chunk.Text)
}

func TestTranscriptionClientRetriesTransientThenSucceeds(t *testing.T) {
	stt := mocks.NewMockSpeechToText(t)
	stt.EXPECT().Transcribe(mockAnyContext(), mock.Anything).Return("", fmt.Errorf("429: %w", domain.ErrTransient)).Twice()
	stt.EXPECT().Transcribe(mockAnyContext(), mock.Anything).Return("hello", nil).Once()
	client := NewTranscriptionClient(stt, testRetry(3), nil, nil, nil)

	chunk := client.Transcribe(context.Background(), testSegment(0, domain.ChannelMic))

	assert.False(t, chunk.Gap)
	assert.Equal(t, "hello", chunk.Text)
}

func TestTranscriptionClientRecordsGapAfterAttemptCap(t *testing.T) {
	stt := mocks.NewMockSpeechToText(t)
	stt.EXPECT().Transcribe(mockAnyContext(), mock.Anything).Return("", fmt.Errorf("503: %w", domain.ErrTransient)).Times(3)
	logger := logging.NewTestLogger()
	client := NewTranscriptionClient(stt, testRetry(3), nil, logger.Logger, nil)

	chunk := client.Transcribe(context.Background(), testSegment(2, domain.ChannelSystem))

	require.True(t, chunk.Gap)
	assert.Contains(t, chunk.GapReason, "max attempts (3) exceeded")
	assert.Equal(t, "[gap: system audio 09:01:00-09:01:30 could not be transcribed]", domain.GapMarker(chunk))
	logger.AssertLogged(t, zapcore.WarnLevel, "recording transcript gap")
	logger.AssertField(t, "segment dropped, recording transcript gap", "session_id", "session-1")
}

func TestTranscriptionClientDoesNotRetryPermanentFailure(t *testing.T) {
	stt := mocks.NewMockSpeechToText(t)
	stt.EXPECT().Transcribe(mockAnyContext(), mock.Anything).Return("", errors.New("400 unsupported audio")).Once()
	client := NewTranscriptionClient(stt, testRetry(3), nil, nil, nil)

	chunk := client.Transcribe(context.Background(), testSegment(0, domain.ChannelMic))

	assert.True(t, chunk.Gap)
	assert.Contains(t, chunk.GapReason, "unsupported audio")
}

func TestTranscriptionClientWindowMergesSystemBeforeMic(t *testing.T) {
	stt := mocks.NewMockSpeechToText(t)
	stt.EXPECT().Transcribe(mockAnyContext(), mock.MatchedBy(func(s domain.AudioSegment) bool {
		return s.Channel == domain.ChannelMic
	})).Return("mic words", nil).Once()
	stt.EXPECT().Transcribe(mockAnyContext(), mock.MatchedBy(func(s domain.AudioSegment) bool {
		return s.Channel == domain.ChannelSystem
	})).Return("system words", nil).Once()
	client := NewTranscriptionClient(stt, testRetry(1), nil, nil, nil)

	chunks := client.TranscribeWindow(context.Background(), []domain.AudioSegment{
		testSegment(0, domain.ChannelMic),
		testSegment(0, domain.ChannelSystem),
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, "system words", chunks[0].Text)
	assert.Equal(t, "mic words", chunks[1].Text)
}
