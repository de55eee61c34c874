package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"go.uber.org/zap"
)

const (
	defaultSegmentDuration = 30 * time.Second
	defaultBlockFrames     = 1024
	segmentBuffer          = 8
)

type CaptureOptions struct {
	SegmentDuration time.Duration
	Channels        []domain.Channel
	Mix             bool
	BlockFrames     int
}

// CaptureScheduler cuts one or more live channels into fixed windows. It is
// single use: Start once, Stop once.
type CaptureScheduler struct {
	sources ports.AudioSourceFactory
	opts    CaptureOptions
	clock   ports.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	errOnce sync.Once
	err     error
}

type captureBlock struct {
	channel domain.Channel
	samples []int16
	eof     bool
}

func NewCaptureScheduler(sources ports.AudioSourceFactory, opts CaptureOptions, clock ports.Clock, logger *logging.Logger, m *metrics.Metrics) *CaptureScheduler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = defaultSegmentDuration
	}
	if opts.BlockFrames <= 0 {
		opts.BlockFrames = defaultBlockFrames
	}

	return &CaptureScheduler{
		sources: sources,
		opts:    opts,
		clock:   clock,
		logger:  logger.Named("capture"),
		metrics: m,
	}
}

// Start opens every channel and returns the segment stream. The stream is
// closed after Stop, after every source is exhausted, or after a capture
// failure; the caller must drain it.
func (s *CaptureScheduler) Start(ctx context.Context, sessionID string) (<-chan domain.AudioSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, errors.New("capture scheduler already started")
	}
	if len(s.opts.Channels) == 0 {
		return nil, fmt.Errorf("%w: no capture channel selected", domain.ErrCaptureFailed)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	opened := make(map[domain.Channel]ports.AudioSource, len(s.opts.Channels))
	for _, channel := range s.opts.Channels {
		source, err := s.sources.Open(captureCtx, channel)
		if err != nil {
			cancel()
			return nil, errors.Join(fmt.Errorf("%w: open %s channel: %w", domain.ErrCaptureFailed, channel, err), closeAll(opened))
		}
		opened[channel] = source
		if source.Format().SampleRate <= 0 {
			cancel()
			return nil, errors.Join(fmt.Errorf("%w: %s channel reports no sample rate", domain.ErrCaptureFailed, channel), closeAll(opened))
		}
	}

	mix := s.opts.Mix && len(s.opts.Channels) > 1
	if mix && !sameFormat(opened) {
		s.logger.Warn(ctx, "channel formats differ, forwarding parallel segments instead of mixing")
		mix = false
	}

	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	blocks := make(chan captureBlock, len(opened)*4)
	out := make(chan domain.AudioSegment, segmentBuffer)

	var readers sync.WaitGroup
	for _, channel := range s.opts.Channels {
		readers.Add(1)
		go func(channel domain.Channel, source ports.AudioSource) {
			defer readers.Done()
			s.readChannel(captureCtx, channel, source, blocks)
		}(channel, opened[channel])
	}
	go func() {
		readers.Wait()
		close(blocks)
	}()

	asm := &segmentAssembler{
		sessionID: sessionID,
		channels:  s.opts.Channels,
		formats:   formatsOf(opened),
		window:    s.opts.SegmentDuration,
		mix:       mix,
		startedAt: s.clock.Now(),
		buffers:   make(map[domain.Channel][]int16, len(opened)),
		ended:     make(map[domain.Channel]bool, len(opened)),
		next:      make(map[domain.Channel]int, len(opened)),
	}
	go func() {
		defer close(s.done)
		defer close(out)
		asm.run(blocks, func(segment domain.AudioSegment) {
			s.metrics.Segment(string(segment.Channel))
			out <- segment
		})
	}()

	s.logger.Info(logging.WithSessionID(ctx, sessionID), "capture started",
		zap.Int("channels", len(opened)),
		zap.Bool("mix", mix),
		zap.Duration("segment", s.opts.SegmentDuration),
	)

	return out, nil
}

// Stop cancels the readers and waits until the partial window is flushed.
func (s *CaptureScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Err reports the capture failure that ended the session, if any.
func (s *CaptureScheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *CaptureScheduler) readChannel(ctx context.Context, channel domain.Channel, source ports.AudioSource, blocks chan<- captureBlock) {
	defer func() {
		if err := source.Close(); err != nil {
			s.logger.Debug(ctx, "close audio source", zap.String("channel", string(channel)), zap.Error(err))
		}
		blocks <- captureBlock{channel: channel, eof: true}
	}()

	width := source.Format().Channels
	if width <= 0 {
		width = 1
	}

	for {
		buf := make([]int16, s.opts.BlockFrames*width)
		n, err := source.ReadFrames(ctx, buf)
		if n > 0 {
			blocks <- captureBlock{channel: channel, samples: buf[:n*width]}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		s.fail(ctx, channel, err)
		return
	}
}

func (s *CaptureScheduler) fail(ctx context.Context, channel domain.Channel, err error) {
	s.errOnce.Do(func() {
		wrapped := fmt.Errorf("%w: %s channel: %w", domain.ErrCaptureFailed, channel, err)
		s.mu.Lock()
		s.err = wrapped
		cancel := s.cancel
		s.mu.Unlock()

		s.logger.Error(ctx, "capture failed", zap.String("channel", string(channel)), zap.Error(err))
		if cancel != nil {
			cancel()
		}
	})
}

type segmentAssembler struct {
	sessionID string
	channels  []domain.Channel
	formats   map[domain.Channel]domain.AudioFormat
	window    time.Duration
	mix       bool
	startedAt time.Time

	buffers map[domain.Channel][]int16
	ended   map[domain.Channel]bool
	next    map[domain.Channel]int
}

func (a *segmentAssembler) run(blocks <-chan captureBlock, emit func(domain.AudioSegment)) {
	for block := range blocks {
		if block.eof {
			a.ended[block.channel] = true
		} else {
			a.buffers[block.channel] = append(a.buffers[block.channel], block.samples...)
		}
		a.emitFull(emit)
	}
	a.flush(emit)
}

func (a *segmentAssembler) windowSamples(channel domain.Channel) int {
	format := a.formats[channel]
	return max(format.FramesFor(a.window), 1) * max(format.Channels, 1)
}

func (a *segmentAssembler) emitFull(emit func(domain.AudioSegment)) {
	if !a.mix {
		for _, channel := range a.channels {
			size := a.windowSamples(channel)
			for len(a.buffers[channel]) >= size {
				emit(a.cut(channel, size))
			}
		}
		return
	}

	for a.mixReady() {
		emit(a.cutMixed(false))
	}
}

// mixReady holds when every live channel has a full window buffered.
func (a *segmentAssembler) mixReady() bool {
	anyFull := false
	for _, channel := range a.channels {
		full := len(a.buffers[channel]) >= a.windowSamples(channel)
		if !full && !a.ended[channel] {
			return false
		}
		anyFull = anyFull || full
	}
	return anyFull
}

func (a *segmentAssembler) flush(emit func(domain.AudioSegment)) {
	if !a.mix {
		for _, channel := range a.channels {
			size := a.windowSamples(channel)
			for len(a.buffers[channel]) > 0 {
				emit(a.cut(channel, min(size, len(a.buffers[channel]))))
			}
		}
		return
	}

	for a.buffered() > 0 {
		emit(a.cutMixed(true))
	}
}

func (a *segmentAssembler) buffered() int {
	total := 0
	for _, buf := range a.buffers {
		total += len(buf)
	}
	return total
}

func (a *segmentAssembler) cut(channel domain.Channel, size int) domain.AudioSegment {
	samples := make([]int16, size)
	copy(samples, a.buffers[channel][:size])
	a.buffers[channel] = a.buffers[channel][size:]

	index := a.next[channel]
	a.next[channel] = index + 1

	return a.segment(index, channel, a.formats[channel], samples)
}

// cutMixed sums one window across channels. A partial cut is padded with
// silence on the shorter channels.
func (a *segmentAssembler) cutMixed(partial bool) domain.AudioSegment {
	format := a.formats[a.channels[0]]
	size := a.windowSamples(a.channels[0])
	if partial {
		longest := 0
		for _, channel := range a.channels {
			longest = max(longest, len(a.buffers[channel]))
		}
		size = min(size, longest)
	}

	mixed := make([]int16, size)
	for _, channel := range a.channels {
		buf := a.buffers[channel]
		take := min(size, len(buf))
		for i := 0; i < take; i++ {
			mixed[i] = mixSample(mixed[i], buf[i])
		}
		a.buffers[channel] = buf[take:]
	}

	index := a.next[domain.ChannelMixed]
	a.next[domain.ChannelMixed] = index + 1

	return a.segment(index, domain.ChannelMixed, format, mixed)
}

func (a *segmentAssembler) segment(index int, channel domain.Channel, format domain.AudioFormat, samples []int16) domain.AudioSegment {
	startedAt := a.startedAt.Add(time.Duration(index) * a.window)
	frames := len(samples) / max(format.Channels, 1)

	return domain.AudioSegment{
		SessionID: a.sessionID,
		Window:    index,
		Channel:   channel,
		Format:    format,
		Samples:   samples,
		StartedAt: startedAt,
		EndedAt:   startedAt.Add(format.DurationOf(frames)),
	}
}

// mixSample adds two samples and clips to the int16 range.
func mixSample(a, b int16) int16 {
	sum := int32(a) + int32(b)
	if sum > math.MaxInt16 {
		return math.MaxInt16
	}
	if sum < math.MinInt16 {
		return math.MinInt16
	}
	return int16(sum)
}

func closeAll(sources map[domain.Channel]ports.AudioSource) error {
	var err error
	for _, source := range sources {
		err = errors.Join(err, source.Close())
	}
	return err
}

func sameFormat(sources map[domain.Channel]ports.AudioSource) bool {
	var first *domain.AudioFormat
	for _, source := range sources {
		format := source.Format()
		if first == nil {
			first = &format
			continue
		}
		if format != *first {
			return false
		}
	}
	return true
}

func formatsOf(sources map[domain.Channel]ports.AudioSource) map[domain.Channel]domain.AudioFormat {
	formats := make(map[domain.Channel]domain.AudioFormat, len(sources))
	for channel, source := range sources {
		formats[channel] = source.Format()
	}
	return formats
}
