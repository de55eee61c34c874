package chain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/meetjot/internal/domain"
	portmocks "github.com/bnema/meetjot/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockChain(t *testing.T) (*Store, *portmocks.MockSecretStore, *portmocks.MockSecretStore) {
	t.Helper()

	env := portmocks.NewMockSecretStore(t)
	file := portmocks.NewMockSecretStore(t)
	store, err := NewStore(Backend{Name: BackendEnv, Store: env}, Backend{Name: BackendFile, Store: file})
	require.NoError(t, err)
	return store, env, file
}

func TestStoreGet(t *testing.T) {
	t.Parallel()

	notFound := domain.ErrSecretNotFound
	tests := []struct {
		name      string
		envValue  string
		envErr    error
		callFile  bool
		fileValue string
		fileErr   error
		want      string
		wantFrom  string
		wantErr   error
		wantText  string
	}{
		{name: "env wins", envValue: "from-env", want: "from-env", wantFrom: BackendEnv},
		{name: "falls through not found", envErr: notFound, callFile: true, fileValue: "from-file", want: "from-file", wantFrom: BackendFile},
		{name: "falls through backend failure", envErr: errors.New("env broken"), callFile: true, fileValue: "from-file", want: "from-file", wantFrom: BackendFile},
		{name: "missing everywhere", envErr: notFound, callFile: true, fileErr: notFound, wantErr: notFound},
		{name: "failure is reported over not found", envErr: errors.New("env broken"), callFile: true, fileErr: notFound, wantText: "env backend: env broken"},
		{name: "cancellation stops the chain", envErr: context.Canceled, wantErr: context.Canceled},
		{name: "invalid reference stops the chain", envErr: domain.ErrInvalidSecretRef, wantErr: domain.ErrInvalidSecretRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, env, file := newMockChain(t)
			env.EXPECT().Get(mock.Anything, "openai/api_key").Return(tt.envValue, tt.envErr).Twice()
			if tt.callFile {
				file.EXPECT().Get(mock.Anything, "openai/api_key").Return(tt.fileValue, tt.fileErr).Twice()
			}

			value, err := store.Get(context.Background(), "openai/api_key")
			from, locateErr := store.Locate(context.Background(), "openai/api_key")
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, locateErr, tt.wantErr)
			case tt.wantText != "":
				require.ErrorContains(t, err, tt.wantText)
				require.Error(t, locateErr)
			default:
				require.NoError(t, err)
				require.NoError(t, locateErr)
				assert.Equal(t, tt.want, value)
				assert.Equal(t, tt.wantFrom, from)
			}
		})
	}
}

func TestStorePutSkipsReadOnlyBackends(t *testing.T) {
	t.Parallel()

	store, env, file := newMockChain(t)
	env.EXPECT().Put(mock.Anything, "ticket/token", "jira").Return(domain.ErrSecretReadOnly).Once()
	file.EXPECT().Put(mock.Anything, "ticket/token", "jira").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), "ticket/token", "jira"))
}

func TestStorePutStopsAtFirstWritableBackend(t *testing.T) {
	t.Parallel()

	store, env, _ := newMockChain(t)
	env.EXPECT().Put(mock.Anything, "ticket/token", "jira").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), "ticket/token", "jira"))
}

func TestStorePutReportsWritableBackendFailure(t *testing.T) {
	t.Parallel()

	store, env, file := newMockChain(t)
	env.EXPECT().Put(mock.Anything, "ticket/token", "jira").Return(domain.ErrSecretReadOnly).Once()
	file.EXPECT().Put(mock.Anything, "ticket/token", "jira").Return(errors.New("disk full")).Once()

	err := store.Put(context.Background(), "ticket/token", "jira")
	require.ErrorContains(t, err, "file backend: disk full")
}

func TestStorePutWithoutWritableBackend(t *testing.T) {
	t.Parallel()

	env := portmocks.NewMockSecretStore(t)
	store, err := NewStore(Backend{Name: BackendEnv, Store: env})
	require.NoError(t, err)
	env.EXPECT().Put(mock.Anything, "ticket/token", "jira").Return(domain.ErrSecretReadOnly).Once()

	require.ErrorIs(t, store.Put(context.Background(), "ticket/token", "jira"), domain.ErrSecretReadOnly)
}

func TestStoreDeleteClearsEveryWritableBackend(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	readOnly := portmocks.NewMockSecretStore(t)
	store, err := NewStore(
		Backend{Name: BackendEnv, Store: readOnly},
		Backend{Name: "primary-file", Store: first},
		Backend{Name: "legacy-file", Store: second},
	)
	require.NoError(t, err)

	readOnly.EXPECT().Delete(mock.Anything, "calendar/token").Return(domain.ErrSecretReadOnly).Once()
	first.EXPECT().Delete(mock.Anything, "calendar/token").Return(nil).Once()
	second.EXPECT().Delete(mock.Anything, "calendar/token").Return(nil).Once()

	require.NoError(t, store.Delete(context.Background(), "calendar/token"))
}

func TestNewStoreRejectsEmptyOrNilBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStore()
	require.ErrorIs(t, err, errNoBackends)

	_, err = NewStore(Backend{Name: BackendFile})
	require.ErrorContains(t, err, "(file) is nil")
}

func TestEnvFirstWithFileFallback(t *testing.T) {
	root := t.TempDir()
	store, err := NewEnvFirstWithFileFallback(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ticket/token", "from-file"))
	_, err = os.Stat(filepath.Join(root, "ticket", "token"))
	require.NoError(t, err)

	value, err := store.Get(ctx, "ticket/token")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)

	t.Setenv("MEETJOT_SECRET_TICKET_TOKEN", "from-env")
	value, err = store.Get(ctx, "ticket/token")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	from, err := store.Locate(ctx, "ticket/token")
	require.NoError(t, err)
	assert.Equal(t, BackendEnv, from)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket/token"}, keys)

	require.NoError(t, store.Delete(ctx, "ticket/token"))
	_, err = os.Stat(filepath.Join(root, "ticket", "token"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = store.Get(ctx, "calendar/token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}
