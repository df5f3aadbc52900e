package domain

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/MatthewMckee4/karva/internal/model"
)

// SnapshotManager manages the pending-snapshot directory:
//
//	<root>/.karva/snapshots/pending   freshly written, awaiting review
//	<root>/.karva/snapshots/accepted  the blessed versions
type SnapshotManager struct {
	root model.Path
}

// NewSnapshotManager constructs a manager for the project root.
func NewSnapshotManager(root model.Path) *SnapshotManager {
	return &SnapshotManager{root: root}
}

func (m *SnapshotManager) pendingDir() string {
	return filepath.Join(string(m.root), ".karva", "snapshots", "pending")
}

func (m *SnapshotManager) acceptedDir() string {
	return filepath.Join(string(m.root), ".karva", "snapshots", "accepted")
}

// Pending lists snapshots awaiting review, sorted by name, each with a
// unified diff against its accepted version.
func (m *SnapshotManager) Pending() ([]model.PendingSnapshot, error) {
	entries, err := os.ReadDir(m.pendingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pending snapshots: %w", err)
	}

	var pending []model.PendingSnapshot

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		snap, err := m.load(entry.Name())
		if err != nil {
			slog.Warn("failed to load pending snapshot", "name", entry.Name(), "error", err)
			continue
		}

		pending = append(pending, snap)
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Name < pending[j].Name })

	return pending, nil
}

func (m *SnapshotManager) load(name string) (model.PendingSnapshot, error) {
	snap := model.PendingSnapshot{
		Name:         name,
		PendingPath:  model.Path(filepath.Join(m.pendingDir(), name)),
		AcceptedPath: model.Path(filepath.Join(m.acceptedDir(), name)),
	}

	newContent, err := os.ReadFile(string(snap.PendingPath))
	if err != nil {
		return snap, err
	}

	oldContent, err := os.ReadFile(string(snap.AcceptedPath))
	if err != nil && !os.IsNotExist(err) {
		return snap, err
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "accepted/" + name,
		ToFile:   "pending/" + name,
		Context:  3,
	})
	if err != nil {
		return snap, err
	}

	snap.Diff = diff

	return snap, nil
}

// Accept moves a pending snapshot into the accepted directory.
func (m *SnapshotManager) Accept(name string) error {
	if err := os.MkdirAll(m.acceptedDir(), 0o750); err != nil {
		return fmt.Errorf("failed to create accepted directory: %w", err)
	}

	src := filepath.Join(m.pendingDir(), name)
	dst := filepath.Join(m.acceptedDir(), name)

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to accept snapshot %q: %w", name, err)
	}

	slog.Info("accepted snapshot", "name", name)

	return nil
}

// Reject deletes a pending snapshot.
func (m *SnapshotManager) Reject(name string) error {
	if err := os.Remove(filepath.Join(m.pendingDir(), name)); err != nil {
		return fmt.Errorf("failed to reject snapshot %q: %w", name, err)
	}

	slog.Info("rejected snapshot", "name", name)

	return nil
}

// AcceptAll accepts every pending snapshot.
func (m *SnapshotManager) AcceptAll() (int, error) {
	pending, err := m.Pending()
	if err != nil {
		return 0, err
	}

	for i, snap := range pending {
		if err := m.Accept(snap.Name); err != nil {
			return i, err
		}
	}

	return len(pending), nil
}

// RejectAll rejects every pending snapshot.
func (m *SnapshotManager) RejectAll() (int, error) {
	pending, err := m.Pending()
	if err != nil {
		return 0, err
	}

	for i, snap := range pending {
		if err := m.Reject(snap.Name); err != nil {
			return i, err
		}
	}

	return len(pending), nil
}
