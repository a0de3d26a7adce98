package logstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"

	"leakwatch/internal/logger"
	"leakwatch/internal/metrics"
	"leakwatch/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrWriterClosed is wrapped in the StorageError returned after Close.
var ErrWriterClosed = errors.New("log writer is closed")

// StorageError reports a failed append. The reading it carried is lost.
type StorageError struct {
	Op   string // encode, lock, write, sync, unlock
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("logstore %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Writer appends snapshots to an NDJSON file, one record per line.
//
// Each Append holds an in-process mutex and an advisory lock on
// "<path>.lock" for its whole duration, writes the record with a single
// write on an O_APPEND descriptor and syncs before returning. Readers that
// honour the newline terminator therefore never see a torn record.
type Writer struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
	file *os.File

	closed bool
}

// NewWriter opens (or creates) the store at path. A trailing partial record
// left by an interrupted process is terminated so that the next append
// starts on a fresh line.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Path: path, Err: err}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	w := &Writer{
		path: path,
		lock: flock.New(path + ".lock"),
		file: f,
	}

	if err := w.repairTail(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) repairTail() error {
	if err := w.lock.Lock(); err != nil {
		return &StorageError{Op: "lock", Path: w.path, Err: err}
	}
	defer w.lock.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return &StorageError{Op: "stat", Path: w.path, Err: err}
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := w.file.ReadAt(last, info.Size()-1); err != nil {
		return &StorageError{Op: "read", Path: w.path, Err: err}
	}
	if last[0] == '\n' {
		return nil
	}

	log := logger.WithComponent("logstore")
	log.Warn().
		Str("path", w.path).
		Int64("size", info.Size()).
		Msg("terminating partial record left by a previous run")

	if _, err := w.file.Write([]byte{'\n'}); err != nil {
		return &StorageError{Op: "write", Path: w.path, Err: err}
	}
	return nil
}

// Path returns the store location.
func (w *Writer) Path() string { return w.path }

// Append serializes snap as one record and makes it durable before
// returning. Failures are reported as *StorageError.
func (w *Writer) Append(snap models.Snapshot) (err error) {
	start := time.Now()
	defer func() {
		metrics.StoreAppendDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.StoreAppendsTotal.WithLabelValues("failed").Inc()
		} else {
			metrics.StoreAppendsTotal.WithLabelValues("success").Inc()
		}
	}()

	line, err := json.Marshal(snap)
	if err != nil {
		return &StorageError{Op: "encode", Path: w.path, Err: err}
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &StorageError{Op: "write", Path: w.path, Err: ErrWriterClosed}
	}

	if err := w.lock.Lock(); err != nil {
		return &StorageError{Op: "lock", Path: w.path, Err: err}
	}
	defer func() {
		if uerr := w.lock.Unlock(); uerr != nil && err == nil {
			err = &StorageError{Op: "unlock", Path: w.path, Err: uerr}
		}
	}()

	info, err := w.file.Stat()
	if err != nil {
		return &StorageError{Op: "stat", Path: w.path, Err: err}
	}
	end := info.Size()

	n, err := w.file.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		// Drop whatever part of the record reached the file.
		_ = w.file.Truncate(end)
		return &StorageError{Op: "write", Path: w.path, Err: err}
	}

	if err := w.file.Sync(); err != nil {
		return &StorageError{Op: "sync", Path: w.path, Err: err}
	}

	metrics.StoreBytesWritten.Add(float64(n))
	return nil
}

// Close releases the file. Appends after Close fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.file.Close()
	if cerr := w.lock.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
