// Package pkg provides shared utilities for karva.
package pkg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// maxRecordSize bounds a single record so a corrupt length prefix cannot
// trigger a huge allocation.
const maxRecordSize = 16 << 20

// RecordLog is a generic append-only log of records of type T, stored as
// length-prefixed JSON. One writer owns the file; readers stream it back,
// tolerating a truncated final record from a crashed writer.
type RecordLog[T any] interface {
	Len() uint64
	Path() string
	Append(item T) error
	AppendBatch(items []T) error
	Close() error
}

type recordLogImpl[T any] struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	length uint64
}

// NewRecordLog creates (truncating) a record log at the given path.
func NewRecordLog[T any](path string) (RecordLog[T], error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		slog.Error("failed to create record log", "path", path, "error", err)
		return nil, fmt.Errorf("failed to create record log: %w", err)
	}

	slog.Debug("created record log", "path", path)

	return &recordLogImpl[T]{path: path, file: file}, nil
}

// Append implements RecordLog.
func (l *recordLogImpl[T]) Append(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	payload, err := json.Marshal(item)
	if err != nil {
		slog.Error("failed to encode record", "path", l.path, "index", l.length, "error", err)
		return fmt.Errorf("failed to encode record: %w", err)
	}

	var prefix [4]byte

	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := l.file.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write record prefix: %w", err)
	}

	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("failed to write record payload: %w", err)
	}

	// Each record reaches disk before the next test runs, so a crashed
	// worker leaves at most one truncated record behind.
	if err := l.file.Sync(); err != nil {
		slog.Warn("failed to sync record log", "path", l.path, "error", err)
	}

	l.length++

	return nil
}

// AppendBatch implements RecordLog.
func (l *recordLogImpl[T]) AppendBatch(items []T) error {
	for _, item := range items {
		if err := l.Append(item); err != nil {
			return err
		}
	}

	return nil
}

// Len implements RecordLog.
func (l *recordLogImpl[T]) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.length
}

// Path implements RecordLog.
func (l *recordLogImpl[T]) Path() string {
	return l.path
}

// Close implements RecordLog.
func (l *recordLogImpl[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil

	if err != nil {
		slog.Error("failed to close record log", "path", l.path, "error", err)
		return err
	}

	slog.Debug("closed record log", "path", l.path, "length", l.length)

	return nil
}

// ReadRecordLog streams every complete record in the file at path into fn.
// A truncated tail (crashed writer) ends the stream without error.
func ReadRecordLog[T any](path string, fn func(index uint64, item T) error) error {
	file, err := os.Open(path)
	if err != nil {
		slog.Error("failed to open record log", "path", path, "error", err)
		return fmt.Errorf("failed to open record log: %w", err)
	}

	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("failed to close record log", "path", path, "error", err)
		}
	}()

	var (
		prefix [4]byte
		index  uint64
	)

	for {
		if _, err := io.ReadFull(file, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}

			return fmt.Errorf("failed to read record prefix at index %d: %w", index, err)
		}

		size := binary.BigEndian.Uint32(prefix[:])
		if size > maxRecordSize {
			return fmt.Errorf("record at index %d exceeds size limit (%d bytes)", index, size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(file, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("truncated record at end of log", "path", path, "index", index)
				return nil
			}

			return fmt.Errorf("failed to read record payload at index %d: %w", index, err)
		}

		var item T
		if err := json.Unmarshal(payload, &item); err != nil {
			slog.Error("failed to decode record", "path", path, "index", index, "error", err)
			return fmt.Errorf("failed to decode record at index %d: %w", index, err)
		}

		if err := fn(index, item); err != nil {
			return err
		}

		index++
	}
}
