package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"medirag/types"
)

const snapshotVersion = 1

// snapshot is the on-disk form of the file backend.
type snapshot struct {
	Version int                `json:"version"`
	BuiltAt time.Time          `json:"built_at"`
	Entries []types.IndexEntry `json:"entries"`
}

var (
	_ VectorIndex = (*MemoryIndex)(nil)
	_ IndexWriter = (*SnapshotWriter)(nil)
)

// MemoryIndex is an exact nearest-neighbour index held in memory. It is
// immutable once built, so concurrent Search calls need no locking.
type MemoryIndex struct {
	entries []types.IndexEntry
}

func NewMemoryIndex(entries []types.IndexEntry) *MemoryIndex {
	return &MemoryIndex{entries: slices.Clone(entries)}
}

// OpenSnapshot loads an index file written by SnapshotWriter.
func OpenSnapshot(path string) (*MemoryIndex, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("index snapshot %s: unsupported version %d", path, snap.Version)
	}
	return &MemoryIndex{entries: snap.Entries}, nil
}

func (m *MemoryIndex) Search(ctx context.Context, query []float32, limit int) ([]types.ScoredDocument, error) {
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored := make([]types.ScoredDocument, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.Embedding) != len(query) {
			continue
		}
		scored = append(scored, types.ScoredDocument{
			DocID:      e.DocID,
			Name:       e.Name,
			Content:    e.Content,
			SourcePath: e.SourcePath,
			Score:      CosineSimilarity(query, e.Embedding),
		})
	}

	SortByScore(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (m *MemoryIndex) Count(context.Context) (int, error) {
	return len(m.entries), nil
}

func (m *MemoryIndex) Close() error { return nil }

// SortByScore orders hits by descending score, then by name so that ties
// resolve the same way on every query.
func SortByScore(docs []types.ScoredDocument) {
	slices.SortStableFunc(docs, func(a, b types.ScoredDocument) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// SnapshotWriter writes the file backend. The file is replaced atomically
// so a server starting mid-rebuild reads either the old or the new index.
type SnapshotWriter struct {
	Path string
}

func (w SnapshotWriter) Rebuild(ctx context.Context, entries []types.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(snapshot{
		Version: snapshotVersion,
		BuiltAt: time.Now().UTC(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}

	dir := filepath.Dir(w.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.Path)
}
