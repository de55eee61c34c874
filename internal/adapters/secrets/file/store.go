package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

const (
	dirMode    = 0o700
	secretMode = 0o600
	tempPrefix = ".secret-"
)

// Store keeps one credential per file under root. The reference
// "openai/api_key" lives at <root>/openai/api_key.
type Store struct {
	root string
	mu   sync.RWMutex
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("store secret %q: value is empty", key)
	}

	ref, path, err := s.resolve(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create secret directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp secret: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(secretMode); err != nil {
		return errors.Join(fmt.Errorf("chmod temp secret: %w", err), tmp.Close(), os.Remove(tmpPath))
	}
	if _, err := tmp.WriteString(value); err != nil {
		return errors.Join(fmt.Errorf("write temp secret: %w", err), tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("close temp secret: %w", err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("replace secret %q: %w", ref, err), os.Remove(tmpPath))
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref, path, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file secret %q: %w", ref, domain.ErrSecretNotFound)
		}
		return "", fmt.Errorf("read file secret %q: %w", ref, err)
	}

	// Files written by hand usually end with a newline.
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return "", fmt.Errorf("file secret %q is empty: %w", ref, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ref, path, err := s.resolve(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file secret %q: %w", ref, err)
	}
	return nil
}

// Keys lists the stored references in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if ref, err := domain.NormalizeSecretRef(filepath.ToSlash(rel)); err == nil {
			keys = append(keys, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list file secrets: %w", err)
	}

	slices.Sort(keys)
	return keys, nil
}

func (s *Store) resolve(key string) (string, string, error) {
	ref, err := domain.NormalizeSecretRef(key)
	if err != nil {
		return "", "", err
	}
	return ref, filepath.Join(s.root, filepath.FromSlash(ref)), nil
}
