package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqliterepo "github.com/bnema/meetjot/internal/adapters/repo/sqlite"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mockAnyContext() interface{} {
	return mock.Anything
}

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time {
	return f.now
}

func testRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, sleep: noSleep}
}

func newTestRepo(t *testing.T) *sqliterepo.Repository {
	t.Helper()

	repo, err := sqliterepo.Open(context.Background(), filepath.Join(t.TempDir(), "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// stageDraft inserts a PENDING ticket and walks it to status.
func stageDraft(t *testing.T, repo ports.DraftRepository, id string, status domain.DraftStatus) domain.ActionDraft {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	draft := domain.ActionDraft{
		ID:        domain.DraftID(id),
		ToolType:  domain.ToolTypeTicket,
		AIPayload: json.RawMessage(`{"title":"Fix login page failure","priority":"high","issue_type":"bug"}`),
		Status:    domain.StatusPending,
		SessionID: "session-1",
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, repo.Insert(ctx, draft))

	path := map[domain.DraftStatus][]domain.DraftStatus{
		domain.StatusPending:   nil,
		domain.StatusRejected:  {domain.StatusRejected},
		domain.StatusApproved:  {domain.StatusApproved},
		domain.StatusExecuting: {domain.StatusApproved, domain.StatusExecuting},
		domain.StatusExecuted:  {domain.StatusApproved, domain.StatusExecuting, domain.StatusExecuted},
		domain.StatusError:     {domain.StatusApproved, domain.StatusExecuting, domain.StatusError},
	}[status]

	from := domain.StatusPending
	for _, to := range path {
		update := domain.StatusUpdate{At: created}
		if to == domain.StatusError {
			update.ErrorDetail = "previous failure"
		}
		var err error
		draft, err = repo.UpdateStatus(ctx, draft.ID, from, to, update)
		require.NoError(t, err)
		from = to
	}
	return draft
}

type fakeSource struct {
	format  domain.AudioFormat
	samples []int16
	// failWith is returned once samples are exhausted, instead of io.EOF.
	failWith error
	// hold blocks once samples are exhausted until the context ends.
	hold bool

	mu     sync.Mutex
	pos    int
	closed atomic.Bool
}

func (s *fakeSource) Format() domain.AudioFormat {
	return s.format
}

func (s *fakeSource) ReadFrames(ctx context.Context, buf []int16) (int, error) {
	s.mu.Lock()
	remaining := s.samples[s.pos:]
	n := copy(buf, remaining)
	s.pos += n
	s.mu.Unlock()

	width := max(s.format.Channels, 1)
	if n > 0 {
		return n / width, nil
	}
	switch {
	case s.hold:
		<-ctx.Done()
		return 0, ctx.Err()
	case s.failWith != nil:
		return 0, s.failWith
	default:
		return 0, io.EOF
	}
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeSourceFactory struct {
	sources map[domain.Channel]*fakeSource
	openErr map[domain.Channel]error
}

func (f *fakeSourceFactory) Open(_ context.Context, channel domain.Channel) (ports.AudioSource, error) {
	if err := f.openErr[channel]; err != nil {
		return nil, err
	}
	source, ok := f.sources[channel]
	if !ok {
		return nil, errors.New("no such device")
	}
	return source, nil
}

func constantSamples(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func collectSegments(t *testing.T, segments <-chan domain.AudioSegment) []domain.AudioSegment {
	t.Helper()

	var out []domain.AudioSegment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case segment, ok := <-segments:
			if !ok {
				return out
			}
			out = append(out, segment)
		case <-timeout:
			t.Fatal("segment stream was not closed")
			return out
		}
	}
}
