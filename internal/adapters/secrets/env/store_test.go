package env

import (
	"context"
	"testing"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableName(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "speech/api_key", want: "MEETJOT_SECRET_SPEECH_API_KEY"},
		{key: "ticket.token", want: "MEETJOT_SECRET_TICKET_TOKEN"},
		{key: " calendar-token ", want: "MEETJOT_SECRET_CALENDAR_TOKEN"},
		{key: "  ", wantErr: true},
		{key: "../escape", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := VariableName(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidSecretRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreGetReadsEnvironment(t *testing.T) {
	t.Setenv("MEETJOT_SECRET_SPEECH_API_KEY", "sk-from-env")
	store := NewStore()

	value, err := store.Get(context.Background(), "speech/api_key")

	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", value)
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	store := &Store{lookup: func(string) (string, bool) { return "", false }}

	_, err := store.Get(context.Background(), "speech/api_key")

	require.ErrorIs(t, err, domain.ErrSecretNotFound)
	assert.ErrorContains(t, err, "MEETJOT_SECRET_SPEECH_API_KEY")
}

func TestStoreIsReadOnly(t *testing.T) {
	store := NewStore()

	require.ErrorIs(t, store.Put(context.Background(), "speech/api_key", "x"), domain.ErrSecretReadOnly)
	require.ErrorIs(t, store.Delete(context.Background(), "speech/api_key"), domain.ErrSecretReadOnly)
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStore().Get(ctx, "speech/api_key")
	require.ErrorIs(t, err, context.Canceled)
}
