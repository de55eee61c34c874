package chain

import (
	"context"
	"errors"
	"fmt"
	"slices"

	envstore "github.com/bnema/meetjot/internal/adapters/secrets/env"
	filestore "github.com/bnema/meetjot/internal/adapters/secrets/file"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

const (
	BackendEnv  = "env"
	BackendFile = "file"
)

// Backend is one named link of the chain.
type Backend struct {
	Name  string
	Store ports.SecretStore
}

// Store resolves credentials from an ordered list of backends. Reads stop at
// the first backend that has the reference; writes go to the first backend
// that accepts them.
type Store struct {
	backends []Backend
}

var _ ports.SecretStore = (*Store)(nil)

type lister interface {
	Keys(ctx context.Context) ([]string, error)
}

var errNoBackends = errors.New("secret chain has no backends")

func NewStore(backends ...Backend) (*Store, error) {
	if len(backends) == 0 {
		return nil, errNoBackends
	}
	for i, backend := range backends {
		if backend.Store == nil {
			return nil, fmt.Errorf("secret backend %d (%s) is nil", i, backend.Name)
		}
	}
	return &Store{backends: backends}, nil
}

// NewEnvFirstWithFileFallback reads MEETJOT_SECRET_* variables first and the
// secrets directory second. Writes land in the directory.
func NewEnvFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(
		Backend{Name: BackendEnv, Store: envstore.NewStore()},
		Backend{Name: BackendFile, Store: filestore.NewStore(fileRoot)},
	)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, _, err := s.lookup(ctx, key)
	return value, err
}

// Locate names the backend that currently answers for key.
func (s *Store) Locate(ctx context.Context, key string) (string, error) {
	_, name, err := s.lookup(ctx, key)
	return name, err
}

func (s *Store) lookup(ctx context.Context, key string) (string, string, error) {
	var failures []error
	for _, backend := range s.backends {
		value, err := backend.Store.Get(ctx, key)
		switch {
		case err == nil:
			return value, backend.Name, nil
		case isContextErr(err):
			return "", "", err
		case errors.Is(err, domain.ErrInvalidSecretRef):
			return "", "", err
		case errors.Is(err, domain.ErrSecretNotFound):
		default:
			failures = append(failures, fmt.Errorf("%s backend: %w", backend.Name, err))
		}
	}

	if len(failures) > 0 {
		return "", "", fmt.Errorf("get secret %q: %w", key, errors.Join(failures...))
	}
	return "", "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	for _, backend := range s.backends {
		err := backend.Store.Put(ctx, key, value)
		if errors.Is(err, domain.ErrSecretReadOnly) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s backend: %w", backend.Name, err)
		}
		return nil
	}
	return fmt.Errorf("put secret %q: %w", key, domain.ErrSecretReadOnly)
}

// Delete removes key from every writable backend so a stale copy further
// down the chain cannot resurface.
func (s *Store) Delete(ctx context.Context, key string) error {
	writable := 0
	for _, backend := range s.backends {
		err := backend.Store.Delete(ctx, key)
		if errors.Is(err, domain.ErrSecretReadOnly) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s backend: %w", backend.Name, err)
		}
		writable++
	}
	if writable == 0 {
		return fmt.Errorf("delete secret %q: %w", key, domain.ErrSecretReadOnly)
	}
	return nil
}

// Keys merges the references of every backend able to enumerate them.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for _, backend := range s.backends {
		l, ok := backend.Store.(lister)
		if !ok {
			continue
		}
		found, err := l.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s backend: %w", backend.Name, err)
		}
		keys = append(keys, found...)
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
