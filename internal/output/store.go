// Package output owns the job artifact directories: streaming patient
// writers, bundle packing, and the download path.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/casgen-dev/casgen/internal/types"
)

// Store manages per-job artifact directories under a shared root. Each job
// writes only inside its own `job_<id>` subdirectory.
type Store struct {
	root string
	mu   sync.RWMutex
}

// NewStore creates the output root if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("output root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the configured output root.
func (s *Store) Root() string { return s.root }

// JobDir returns the artifact directory for a job without creating it.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, "job_"+jobID)
}

// EnsureJobDir creates and returns the artifact directory for a job.
func (s *Store) EnsureJobDir(jobID string) (string, error) {
	if err := checkPathComponent(jobID); err != nil {
		return "", err
	}
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	return dir, nil
}

// Open opens one artifact for streaming. The caller owns the returned file.
func (s *Store) Open(jobID, filename string) (*os.File, os.FileInfo, error) {
	if err := checkPathComponent(jobID); err != nil {
		return nil, nil, err
	}
	if err := checkPathComponent(filename); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.JobDir(jobID), filename)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// Remove deletes a job's artifact directory. Missing directories are not an
// error so retention sweeps are idempotent.
func (s *Store) Remove(jobID string) error {
	if err := checkPathComponent(jobID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.JobDir(jobID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete job directory: %w", err)
	}
	return nil
}

// List returns metadata for the files present in a job's directory.
func (s *Store) List(jobID string) ([]types.OutputFile, error) {
	if err := checkPathComponent(jobID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.JobDir(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job directory: %w", err)
	}
	var files []types.OutputFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, types.OutputFile{
			Name:        entry.Name(),
			Format:      formatForName(entry.Name()),
			ContentType: ContentTypeFor(entry.Name()),
			SizeBytes:   info.Size(),
		})
	}
	return files, nil
}

// checkPathComponent rejects ids and filenames that could escape the job
// directory.
func checkPathComponent(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("name %q cannot contain path separators", name)
	}
	return nil
}

// ContentTypeFor maps an artifact filename to its download media type.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".zip":
		return "application/zip"
	case ".enc":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func formatForName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "binary"
	}
	return strings.TrimPrefix(ext, ".")
}
