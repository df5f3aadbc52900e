package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/MatthewMckee4/karva/internal/model"
	"github.com/MatthewMckee4/karva/pkg"
)

// ResultStore manages the filesystem-backed results cache:
//
//	<cache-root>/<run-id>/meta.json
//	<cache-root>/<run-id>/<worker-id>.results
//
// Each worker is the single writer of its own results file; the
// aggregator only reads.
type ResultStore interface {
	PrepareRun(cacheRoot model.Path, meta model.RunMeta) error
	OpenResults(cacheRoot model.Path, runID string, workerID int) (pkg.RecordLog[model.ResultRecord], error)
	LoadResults(cacheRoot model.Path, runID string, workerID int) ([]model.ResultRecord, error)
	LoadMeta(cacheRoot model.Path, runID string) (model.RunMeta, error)
	ReleaseRun(cacheRoot model.Path, runID string) error
}

// LocalResultStore is the os-backed implementation.
type LocalResultStore struct {
	locks map[string]*flock.Flock
}

// NewLocalResultStore constructs a LocalResultStore.
func NewLocalResultStore() *LocalResultStore {
	return &LocalResultStore{locks: map[string]*flock.Flock{}}
}

func runDir(cacheRoot model.Path, runID string) string {
	return filepath.Join(string(cacheRoot), runID)
}

func resultsPath(cacheRoot model.Path, runID string, workerID int) string {
	return filepath.Join(runDir(cacheRoot, runID), strconv.Itoa(workerID)+".results")
}

// PrepareRun creates the run directory, takes an exclusive lock on it
// and writes meta.json.
func (s *LocalResultStore) PrepareRun(cacheRoot model.Path, meta model.RunMeta) error {
	dir := runDir(cacheRoot, meta.RunID)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		slog.Error("failed to create run directory", "dir", dir, "error", err)
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock run directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("run directory %s is in use by another process", dir)
	}

	s.locks[meta.RunID] = lock

	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "meta.json"), payload, 0o600); err != nil {
		slog.Error("failed to write run meta", "dir", dir, "error", err)
		return fmt.Errorf("failed to write run meta: %w", err)
	}

	return nil
}

// OpenResults opens this worker's results file for writing.
func (s *LocalResultStore) OpenResults(cacheRoot model.Path, runID string, workerID int) (pkg.RecordLog[model.ResultRecord], error) {
	dir := runDir(cacheRoot, runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	return pkg.NewRecordLog[model.ResultRecord](resultsPath(cacheRoot, runID, workerID))
}

// LoadResults reads every complete record a worker wrote. A missing file
// yields no records: a crashed worker may never have opened it.
func (s *LocalResultStore) LoadResults(cacheRoot model.Path, runID string, workerID int) ([]model.ResultRecord, error) {
	path := resultsPath(cacheRoot, runID, workerID)

	if _, err := os.Stat(path); err != nil {
		slog.Warn("worker results file missing", "path", path)
		return nil, nil
	}

	var records []model.ResultRecord

	err := pkg.ReadRecordLog(path, func(_ uint64, rec model.ResultRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load worker %d results: %w", workerID, err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Module != records[j].Module {
			return records[i].Module < records[j].Module
		}
		if records[i].Line != records[j].Line {
			return records[i].Line < records[j].Line
		}
		return records[i].VariantIndex < records[j].VariantIndex
	})

	return records, nil
}

// LoadMeta reads the run manifest.
func (s *LocalResultStore) LoadMeta(cacheRoot model.Path, runID string) (model.RunMeta, error) {
	var meta model.RunMeta

	payload, err := os.ReadFile(filepath.Join(runDir(cacheRoot, runID), "meta.json"))
	if err != nil {
		return meta, fmt.Errorf("failed to read run meta: %w", err)
	}

	if err := json.Unmarshal(payload, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode run meta: %w", err)
	}

	return meta, nil
}

// ReleaseRun drops the run directory lock.
func (s *LocalResultStore) ReleaseRun(_ model.Path, runID string) error {
	lock, ok := s.locks[runID]
	if !ok {
		return nil
	}

	delete(s.locks, runID)

	if err := lock.Unlock(); err != nil {
		slog.Error("failed to unlock run directory", "run", runID, "error", err)
		return fmt.Errorf("failed to unlock run directory: %w", err)
	}

	return nil
}
