// Package archive provides content-addressed offsite storage for
// evidence bundles, transparency reports, and other governance
// artifacts that must survive the process.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store defines the contract for content-addressed artifact storage.
type Store interface {
	// Store persists data and returns its content hash (SHA-256).
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks if an artifact exists by its content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes an artifact by its content hash.
	Delete(ctx context.Context, hash string) error
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new content-addressed store at the given directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	prefixedHash := "sha256:" + hashStr

	path := filepath.Join(s.baseDir, hashStr+".blob")

	// Idempotent: identical content is already archived.
	if _, err := os.Stat(path); err == nil {
		return prefixedHash, nil
	}

	// Write to temp, then rename so partial writes never surface.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}

	return prefixedHash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.baseDir, rawHash+".blob")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found: %s", hash)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := parseHash(hash)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filepath.Join(s.baseDir, rawHash+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawHash, err := parseHash(hash)
	if err != nil {
		return err
	}

	path := filepath.Join(s.baseDir, rawHash+".blob")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("artifact not found: %s", hash)
		}
		return err
	}
	return nil
}

// parseHash validates the "sha256:<hex>" format and returns the hex part.
func parseHash(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	if _, err := hex.DecodeString(rawHash); err != nil {
		return "", fmt.Errorf("invalid hash hex: %w", err)
	}
	return rawHash, nil
}
