package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes evidence under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating evidence dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (f *FSStore) Write(ctx context.Context, key, _ string, data []byte) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(f.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating evidence dir: %w", err)
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing evidence: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing evidence: %w", err)
	}
	return Ref("file://" + key), nil
}

// Path returns the local path of a ref written by this store.
func (f *FSStore) Path(ref Ref) (string, bool) {
	key, ok := strings.CutPrefix(string(ref), "file://")
	if !ok {
		return "", false
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), true
}

