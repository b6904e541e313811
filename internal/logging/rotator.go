package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileRotator is an io.Writer over a log file that is rotated once it
// would exceed maxBytes. Rotated files are named path.1 (newest) through
// path.N, where N is the number of backups kept.
type FileRotator struct {
	path     string
	maxBytes int64
	backups  int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileRotator opens path for appending, creating its directory. A
// maxMB of zero or less disables rotation.
func NewFileRotator(path string, maxMB int64, backups int) (*FileRotator, error) {
	return newRotator(path, maxMB<<20, backups)
}

func newRotator(path string, maxBytes int64, backups int) (*FileRotator, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	r := &FileRotator{path: path, maxBytes: maxBytes, backups: backups}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer. A single write larger than the limit still
// goes to one file.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) backup(i int) string {
	return r.path + "." + strconv.Itoa(i)
}

// rotate shifts path.i to path.i+1, drops the oldest and reopens path.
func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	if r.backups <= 0 {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return r.open()
	}

	_ = os.Remove(r.backup(r.backups))
	for i := r.backups - 1; i >= 1; i-- {
		if err := os.Rename(r.backup(i), r.backup(i+1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shift %s: %w", r.backup(i), err)
		}
	}
	if err := os.Rename(r.path, r.backup(1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	return r.open()
}

// Files returns the current log file followed by existing backups,
// newest first.
func (r *FileRotator) Files() []string {
	files := []string{r.path}
	for i := 1; i <= r.backups; i++ {
		if _, err := os.Stat(r.backup(i)); err == nil {
			files = append(files, r.backup(i))
		}
	}
	return files
}

// Close closes the underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the file to stable storage.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}
