package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	defaultMaxSize = 2 * 1024 * 1024 // per log file
	maxBackups     = 2
)

// RotatingWriter caps the daemon log by size, shifting full files to
// numbered backups instead of truncating them. A day's reconciliation can
// only be explained from the log of the run that wrote it, so old runs stay
// inspectable until the backups age out.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// New opens the capped log file. A file already over the cap is rotated out
// so the new run starts fresh.
func New(logPath string) (*RotatingWriter, error) {
	w := &RotatingWriter{path: logPath, maxSize: defaultMaxSize}
	if err := w.open(); err != nil {
		return nil, err
	}
	if w.size > w.maxSize {
		w.mu.Lock()
		w.rotate()
		w.mu.Unlock()
	}
	return w, nil
}

// Setup routes the standard logger to both stdout and the capped file.
func Setup(logPath string) (*RotatingWriter, error) {
	w, err := New(logPath)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, w))
	return w, nil
}

// SetMaxSize overrides the rotation threshold. Test hook.
func (w *RotatingWriter) SetMaxSize(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxSize = n
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	if info, err := f.Stat(); err == nil {
		w.size = info.Size()
	}
	return nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}
	return n, err
}

// rotate shifts daemon.log -> daemon.log.1 -> daemon.log.2 and drops the
// oldest. Callers hold w.mu.
func (w *RotatingWriter) rotate() {
	w.file.Close()

	os.Remove(backupPath(w.path, maxBackups))
	for i := maxBackups - 1; i >= 1; i-- {
		os.Rename(backupPath(w.path, i), backupPath(w.path, i+1))
	}
	os.Rename(w.path, backupPath(w.path, 1))

	w.open()
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
