// Package blob stores attachment payloads and hands back the URL clients
// embed as message content.
package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/converge/chat-app/internal/errs"
)

// MaxAttachmentBytes bounds a single upload.
const MaxAttachmentBytes = 8 << 20

// Store persists attachment blobs.
type Store interface {
	// Upload writes the blob and returns its public URL. The name is
	// advisory; only its extension survives.
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// FileStore keeps blobs on the local filesystem under a single directory
// and serves them under baseURL. Filenames are freshly generated UUIDs so
// client-supplied names never touch the filesystem.
type FileStore struct {
	dir     string
	baseURL string
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create store dir: %w", err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FileStore) Upload(_ context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("blob: empty payload: %w", errs.ErrValidation)
	}
	if len(data) > MaxAttachmentBytes {
		return "", fmt.Errorf("blob: payload exceeds %d bytes: %w", MaxAttachmentBytes, errs.ErrValidation)
	}

	ext := sanitizeExt(path.Ext(name))
	filename := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write attachment: %w", err)
	}
	return s.baseURL + "/" + filename, nil
}

// Dir is the directory served for downloads.
func (s *FileStore) Dir() string {
	return s.dir
}

func sanitizeExt(ext string) string {
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return ""
		}
	}
	return strings.ToLower(ext)
}
