// Package blob stores uploaded documents on the local filesystem, keyed by
// run id so a run's source bytes can always be refetched for replay or export.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/belticlabs/alternate-ocr/internal/common"
)

// Store is a flat-directory document store. Keys are opaque to callers; the
// current scheme is "<run id><ext>" so a directory listing stays readable.
type Store struct {
	dir string
}

// NewStore creates the backing directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the document and returns its key.
func (s *Store) Save(runID, filename string, data []byte) (string, error) {
	key := runID + extOf(filename)
	path := filepath.Join(s.dir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	return key, nil
}

// Load reads a stored document back.
func (s *Store) Load(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, common.InvalidInputf("invalid blob key %q", key)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if os.IsNotExist(err) {
		return nil, common.NotFoundf("blob %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a stored document. Deleting a missing blob is not an error;
// run deletion must stay idempotent.
func (s *Store) Delete(key string) error {
	if !validKey(key) {
		return common.InvalidInputf("invalid blob key %q", key)
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// validKey rejects anything that could escape the store directory.
func validKey(key string) bool {
	return key != "" &&
		!strings.Contains(key, "/") &&
		!strings.Contains(key, "\\") &&
		!strings.Contains(key, "..")
}

func extOf(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf", ".jpg", ".jpeg", ".png", ".webp":
		return ext
	default:
		return ".bin"
	}
}
