package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDrainTimeout = 30 * time.Second
	defaultMaxInflight  = 4
)

type SessionOptions struct {
	Capture            CaptureOptions
	DrainTimeout       time.Duration
	ExtractionInterval time.Duration
	MaxInflight        int
}

type SessionInfo struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	Channels  []domain.Channel `json:"channels"`

	ended <-chan struct{}
}

// Ended is closed once capture has stopped and every segment is transcribed.
// A replayed session ends on its own when the files are exhausted.
func (i SessionInfo) Ended() <-chan struct{} {
	return i.ended
}

type SessionSummary struct {
	SessionID     string               `json:"session_id"`
	StartedAt     time.Time            `json:"started_at"`
	EndedAt       time.Time            `json:"ended_at"`
	Segments      int                  `json:"segments"`
	Gaps          int                  `json:"gaps"`
	DraftsCreated int                  `json:"drafts_created"`
	Drafts        []domain.ActionDraft `json:"drafts"`
	Discarded     []DiscardedCandidate `json:"discarded,omitempty"`
	Transcript    string               `json:"transcript"`
	CaptureError  string               `json:"capture_error,omitempty"`
}

// SessionService owns the single live capture session: capture, bounded
// asynchronous transcription, periodic and final extraction.
type SessionService struct {
	sources     ports.AudioSourceFactory
	opts        SessionOptions
	transcriber *TranscriptionClient
	extractor   *ExtractionEngine
	resolver    *ContextResolver
	clock       ports.Clock
	logger      *logging.Logger
	metrics     *metrics.Metrics

	newID func() string

	mu       sync.Mutex
	active   *liveSession
	stopping bool
}

type liveSession struct {
	info       SessionInfo
	capture    *CaptureScheduler
	transcript *domain.Transcript
	segments   atomic.Int64

	cancel           context.CancelFunc
	cancelTranscribe context.CancelFunc
	drained          chan struct{}

	tickerStop chan struct{}
	tickerDone chan struct{}

	draftsMu  sync.Mutex
	drafts    []domain.ActionDraft
	discarded []DiscardedCandidate
}

func NewSessionService(sources ports.AudioSourceFactory, opts SessionOptions, transcriber *TranscriptionClient, extractor *ExtractionEngine, resolver *ContextResolver, clock ports.Clock, logger *logging.Logger, m *metrics.Metrics) *SessionService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = defaultMaxInflight
	}

	return &SessionService{
		sources:     sources,
		opts:        opts,
		transcriber: transcriber,
		extractor:   extractor,
		resolver:    resolver,
		clock:       clock,
		logger:      logger.Named("session"),
		metrics:     m,
		newID:       uuid.NewString,
	}
}

// StartSession begins capturing the given channels, or the configured ones
// when none are given. The session outlives ctx and runs until StopSession.
func (s *SessionService) StartSession(ctx context.Context, channels []domain.Channel) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return SessionInfo{}, fmt.Errorf("%w: session %s", domain.ErrSessionActive, s.active.info.ID)
	}

	opts := s.opts.Capture
	if len(channels) > 0 {
		opts.Channels = channels
	}

	id := s.newID()
	sessionCtx, cancel := context.WithCancel(logging.WithSessionID(context.WithoutCancel(ctx), id))
	capture := NewCaptureScheduler(s.sources, opts, s.clock, s.logger, s.metrics)
	segments, err := capture.Start(sessionCtx, id)
	if err != nil {
		cancel()
		return SessionInfo{}, fmt.Errorf("start capture: %w", err)
	}

	transcribeCtx, cancelTranscribe := context.WithCancel(sessionCtx)
	drained := make(chan struct{})
	live := &liveSession{
		info: SessionInfo{
			ID:        id,
			StartedAt: s.clock.Now(),
			Channels:  opts.Channels,
			ended:     drained,
		},
		capture:          capture,
		transcript:       domain.NewTranscript(),
		cancel:           cancel,
		cancelTranscribe: cancelTranscribe,
		drained:          drained,
	}

	go s.consume(transcribeCtx, live, segments)
	if s.opts.ExtractionInterval > 0 {
		live.tickerStop = make(chan struct{})
		live.tickerDone = make(chan struct{})
		go s.extractPeriodically(sessionCtx, live)
	}

	s.active = live
	s.logger.Info(sessionCtx, "session started", zap.Int("channels", len(opts.Channels)))
	return live.info, nil
}

// consume hands every segment to its own transcription task. Tasks wait for
// a slot themselves so the segment stream is never blocked.
func (s *SessionService) consume(ctx context.Context, live *liveSession, segments <-chan domain.AudioSegment) {
	defer close(live.drained)

	sem := semaphore.NewWeighted(int64(s.opts.MaxInflight))
	var g errgroup.Group
	for segment := range segments {
		live.segments.Add(1)
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				s.metrics.Gap(string(segment.Channel))
				live.transcript.Add(domain.TranscriptChunk{
					Window:    segment.Window,
					Channel:   segment.Channel,
					StartedAt: segment.StartedAt,
					EndedAt:   segment.EndedAt,
					Gap:       true,
					GapReason: fmt.Sprintf("transcription abandoned at session stop: %v", err),
				})
				return nil
			}
			defer sem.Release(1)

			live.transcript.Add(s.transcriber.Transcribe(ctx, segment))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *SessionService) extractPeriodically(ctx context.Context, live *liveSession) {
	defer close(live.tickerDone)

	ticker := time.NewTicker(s.opts.ExtractionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-live.tickerStop:
			return
		case <-ticker.C:
			if _, err := s.extract(ctx, live); err != nil {
				s.logger.Warn(ctx, "periodic extraction failed", zap.Error(err))
			}
		}
	}
}

func (s *SessionService) extract(ctx context.Context, live *liveSession) (ExtractionResult, error) {
	result, err := s.extractor.ExtractAndStage(ctx, live.info.ID, live.transcript.Text(), s.resolver.Reference())

	live.draftsMu.Lock()
	live.drafts = append(live.drafts, result.Drafts...)
	live.discarded = append(live.discarded, result.Discarded...)
	live.draftsMu.Unlock()

	return result, err
}

// ExtractNow runs an extraction on the live session transcript.
func (s *SessionService) ExtractNow(ctx context.Context) (ExtractionResult, error) {
	s.mu.Lock()
	live := s.active
	s.mu.Unlock()

	if live == nil {
		return ExtractionResult{}, domain.ErrNoActiveSession
	}
	return s.extract(logging.WithSessionID(ctx, live.info.ID), live)
}

func (s *SessionService) ActiveSession() (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return SessionInfo{}, false
	}
	return s.active.info, true
}

// StopSession stops capture, drains in-flight transcription within the drain
// timeout, then runs the final extraction. The summary is returned even when
// the final extraction fails.
func (s *SessionService) StopSession(ctx context.Context) (SessionSummary, error) {
	s.mu.Lock()
	live := s.active
	if live == nil || s.stopping {
		s.mu.Unlock()
		return SessionSummary{}, domain.ErrNoActiveSession
	}
	s.stopping = true
	s.mu.Unlock()

	defer func() {
		live.cancel()
		s.mu.Lock()
		s.active = nil
		s.stopping = false
		s.mu.Unlock()
	}()

	ctx = logging.WithSessionID(context.WithoutCancel(ctx), live.info.ID)

	if live.tickerStop != nil {
		close(live.tickerStop)
		<-live.tickerDone
	}

	live.capture.Stop()

	timer := time.NewTimer(s.opts.DrainTimeout)
	defer timer.Stop()
	select {
	case <-live.drained:
	case <-timer.C:
		s.logger.Warn(ctx, "transcription drain timed out, abandoning in-flight segments", zap.Duration("timeout", s.opts.DrainTimeout))
		live.cancelTranscribe()
		<-live.drained
	}

	_, extractErr := s.extract(ctx, live)

	summary := SessionSummary{
		SessionID:  live.info.ID,
		StartedAt:  live.info.StartedAt,
		EndedAt:    s.clock.Now(),
		Segments:   int(live.segments.Load()),
		Gaps:       live.transcript.Gaps(),
		Transcript: live.transcript.Text(),
	}
	live.draftsMu.Lock()
	summary.Drafts = append(summary.Drafts, live.drafts...)
	summary.Discarded = append(summary.Discarded, live.discarded...)
	live.draftsMu.Unlock()
	summary.DraftsCreated = len(summary.Drafts)
	if err := live.capture.Err(); err != nil {
		summary.CaptureError = err.Error()
	}

	live.transcript.Clear()

	s.logger.Info(ctx, "session stopped",
		zap.Int("segments", summary.Segments),
		zap.Int("gaps", summary.Gaps),
		zap.Int("drafts", summary.DraftsCreated),
	)

	if extractErr != nil {
		return summary, fmt.Errorf("final extraction: %w", extractErr)
	}
	return summary, nil
}
