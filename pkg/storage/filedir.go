package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// FileDir addresses file content stored on disk by content hash, using the
// two-level fan-out layout ab/cd/abcd... under a base directory.
type FileDir struct {
	baseDir string
}

// NewFileDir returns a handle for the given directory. An empty base directory
// returns nil; callers treat a nil FileDir as "content not managed here".
func NewFileDir(baseDir string) (*FileDir, error) {
	if baseDir == "" {
		return nil, nil
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("stat filedir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filedir %s is not a directory", baseDir)
	}
	return &FileDir{baseDir: baseDir}, nil
}

// Path resolves the on-disk location for a content hash.
func (s *FileDir) Path(contentHash string) (string, error) {
	if !contentHashPattern.MatchString(contentHash) {
		return "", fmt.Errorf("invalid content hash %q", contentHash)
	}
	return filepath.Join(s.baseDir, contentHash[0:2], contentHash[2:4], contentHash), nil
}

// Exists reports whether content for the hash is present.
func (s *FileDir) Exists(contentHash string) (bool, error) {
	path, err := s.Path(contentHash)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat content: %w", err)
	}
	return true, nil
}

// Delete removes stored content if present. Missing content is not an error.
func (s *FileDir) Delete(contentHash string) (bool, error) {
	path, err := s.Path(contentHash)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete content: %w", err)
	}
	return true, nil
}
