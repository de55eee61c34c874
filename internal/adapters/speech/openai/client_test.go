package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	portmocks "github.com/bnema/meetjot/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testSegment() domain.AudioSegment {
	started := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	return domain.AudioSegment{
		SessionID: "session-1",
		Window:    3,
		Channel:   domain.ChannelMixed,
		Format:    domain.AudioFormat{SampleRate: 16000, Channels: 1},
		Samples:   make([]int16, 1600),
		StartedAt: started,
		EndedAt:   started.Add(100 * time.Millisecond),
	}
}

func newSecrets(t *testing.T) *portmocks.MockSecretStore {
	t.Helper()
	secrets := portmocks.NewMockSecretStore(t)
	secrets.EXPECT().Get(mock.Anything, "openai/api_key").Return("sk-test", nil).Maybe()
	return secrets
}

func TestTranscribeSendsMultipartWAV(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "json", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "session-1-0003-mixed.wav", header.Filename)
		audio, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(audio[:4]))
		assert.Equal(t, "WAVE", string(audio[8:12]))
		assert.Len(t, audio, 44+1600*2)

		_, _ = w.Write([]byte(`{"text":" Create a bug ticket. "}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:   server.URL + "/v1",
		Model:     "whisper-1",
		Language:  "en",
		APIKeyRef: "openai/api_key",
	}, newSecrets(t), server.Client())

	text, err := client.Transcribe(context.Background(), testSegment())

	require.NoError(t, err)
	assert.Equal(t, "Create a bug ticket.", text)
}

func TestTranscribeClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "server error", status: http.StatusServiceUnavailable, wantTransient: true},
		{name: "bad audio", status: http.StatusBadRequest, wantTransient: false},
		{name: "bad key", status: http.StatusUnauthorized, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			t.Cleanup(server.Close)

			client := NewClient(Config{BaseURL: server.URL, Model: "whisper-1", APIKeyRef: "openai/api_key"}, newSecrets(t), server.Client())
			_, err := client.Transcribe(context.Background(), testSegment())

			require.Error(t, err)
			assert.ErrorContains(t, err, "nope")
			assert.Equal(t, tt.wantTransient, isTransient(err))
		})
	}
}

func TestTranscribeFailsWithoutCredential(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(server.Close)

	secrets := portmocks.NewMockSecretStore(t)
	secrets.EXPECT().Get(mock.Anything, "openai/api_key").Return("", domain.ErrSecretNotFound).Once()
	client := NewClient(Config{BaseURL: server.URL, Model: "whisper-1", APIKeyRef: "openai/api_key"}, secrets, server.Client())

	_, err := client.Transcribe(context.Background(), testSegment())

	require.ErrorIs(t, err, domain.ErrSecretNotFound)
	assert.Zero(t, calls.Load())
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}
