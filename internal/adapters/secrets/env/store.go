package env

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

const Prefix = "MEETJOT_SECRET_"

// Store resolves secret references from environment variables. The key
// "speech/api_key" is read from MEETJOT_SECRET_SPEECH_API_KEY.
type Store struct {
	lookup func(string) (string, bool)
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{lookup: os.LookupEnv}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name, err := VariableName(key)
	if err != nil {
		return "", err
	}

	value, ok := s.lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("env secret %s: %w", name, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("put %q in environment: %w", key, domain.ErrSecretReadOnly)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("delete %q from environment: %w", key, domain.ErrSecretReadOnly)
}

// VariableName maps a secret reference to its environment variable.
func VariableName(key string) (string, error) {
	ref, err := domain.NormalizeSecretRef(key)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(Prefix)
	for _, r := range strings.ToUpper(ref) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String(), nil
}
