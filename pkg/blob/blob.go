// Package blob persists oversized memory payloads as files under a per-user
// directory tree. The ledger keeps only a pointer record; backing files are
// never deleted by the memory lifecycle (explicit retention policy).
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// PointerType is the metadata type tag marking a memory as a file pointer.
	PointerType = "file_pointer_v1"

	// DefaultFilename is used when the caller supplies large text without a
	// filename.
	DefaultFilename = "large_text.txt"
)

// ErrNotFile is returned by Read when the pointer path exists but is not a
// regular file.
var ErrNotFile = errors.New("pointer path is not a regular file")

// Pointer describes an externalized payload. It is recorded verbatim into
// the memory's metadata.
type Pointer struct {
	Type             string `json:"type"`
	OriginalFilename string `json:"original_filename"`
	StoredFilename   string `json:"stored_filename"`
	FilePath         string `json:"file_path"`
	SizeBytes        int    `json:"size_bytes"`
	CharLength       int    `json:"char_length"`
}

// Metadata returns the pointer fields as a metadata mapping.
func (p Pointer) Metadata() map[string]any {
	return map[string]any{
		"type":              p.Type,
		"original_filename": p.OriginalFilename,
		"stored_filename":   p.StoredFilename,
		"file_path":         p.FilePath,
		"size_bytes":        p.SizeBytes,
		"char_length":       p.CharLength,
	}
}

// Description is the short human-readable text stored in place of the full
// payload.
func (p Pointer) Description() string {
	return fmt.Sprintf("Stored file: %s (Content pointer)", p.OriginalFilename)
}

// Store writes externalized payloads under basePath/<user>/.
type Store struct {
	basePath string
}

// NewStore creates a blob store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("blob base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving blob base path: %w", err)
	}
	return &Store{basePath: abs}, nil
}

// BasePath returns the absolute root of the blob tree.
func (s *Store) BasePath() string {
	return s.basePath
}

// Put writes text to a fresh file under the user's directory and returns the
// pointer record. The stored filename is <uuid>_<base component of the
// original name>; path segments in the caller-supplied name are discarded so
// a crafted filename cannot escape the per-user directory. A fresh uuid per
// call means concurrent writes never collide.
func (s *Store) Put(userID, text, originalFilename string) (*Pointer, error) {
	userDir := filepath.Join(s.basePath, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating user directory: %w", err)
	}

	original := originalFilename
	if original == "" {
		original = DefaultFilename
	}

	sane := filepath.Base(original)
	if sane == "." || sane == string(filepath.Separator) {
		sane = DefaultFilename
	}

	storedName := fmt.Sprintf("%s_%s", uuid.New(), sane)
	path := filepath.Join(userDir, storedName)

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("writing payload: %w", err)
	}

	return &Pointer{
		Type:             PointerType,
		OriginalFilename: original,
		StoredFilename:   storedName,
		FilePath:         path,
		SizeBytes:        len(text),
		CharLength:       utf8.RuneCountInString(text),
	}, nil
}

// Read returns the full content of a pointer's backing file.
func (s *Store) Read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
