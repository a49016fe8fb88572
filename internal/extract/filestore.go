package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"horse.fit/paddock/internal/db"
)

// FileStore reads the bytes of a stored upload. Upload storage itself (paths,
// replication, quotas) belongs to the surrounding platform; the extractor
// only ever reads.
type FileStore interface {
	ReadFile(ctx context.Context, ref db.FileRef, maxBytes int64) ([]byte, error)
}

// DirStore serves uploads from a local directory root.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: strings.TrimSpace(root)}
}

func (s *DirStore) ReadFile(_ context.Context, ref db.FileRef, maxBytes int64) ([]byte, error) {
	if s == nil || s.root == "" {
		return nil, fmt.Errorf("file store root is not configured")
	}

	cleaned := filepath.Clean(ref.Path)
	if cleaned == "" || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("invalid file reference %q", ref.Path)
	}

	f, err := os.Open(filepath.Join(s.root, cleaned))
	if err != nil {
		return nil, fmt.Errorf("open upload %q: %w", ref.Path, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if maxBytes > 0 {
		reader = io.LimitReader(f, maxBytes)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload %q: %w", ref.Path, err)
	}
	return body, nil
}
