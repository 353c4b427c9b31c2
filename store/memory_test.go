package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"medirag/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(name string, vec ...float32) types.IndexEntry {
	return types.IndexEntry{DocID: uuid.New(), Name: name, Content: name + " label", Embedding: vec}
}

func names(docs []types.ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Name
	}
	return out
}

func TestMemoryIndex_SearchRanksBySimilarity(t *testing.T) {
	idx := NewMemoryIndex([]types.IndexEntry{
		entry("Tylenol", 0, 1),
		entry("Advil", 1, 0),
		entry("Motrin", 0.9, 0.1),
	})

	res, err := idx.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Advil", "Motrin"}, names(res))
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.Greater(t, res[0].Score, res[1].Score)
}

func TestMemoryIndex_NeverExceedsLimit(t *testing.T) {
	idx := NewMemoryIndex([]types.IndexEntry{entry("A", 1, 0), entry("B", 0, 1), entry("C", 1, 1)})
	query := []float32{1, 0.5}

	for limit := 0; limit <= 5; limit++ {
		res, err := idx.Search(context.Background(), query, limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res), limit)
		assert.Equal(t, min(limit, 3), len(res))
	}
}

func TestMemoryIndex_TiesBreakByName(t *testing.T) {
	idx := NewMemoryIndex([]types.IndexEntry{entry("Zyrtec", 1, 0), entry("Allegra", 1, 0), entry("Motrin", 1, 0)})

	first, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	second, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"Allegra", "Motrin", "Zyrtec"}, names(first))
	assert.Equal(t, names(first), names(second))
}

func TestMemoryIndex_SkipsMismatchedDimensions(t *testing.T) {
	idx := NewMemoryIndex([]types.IndexEntry{entry("Old", 1, 0, 0), entry("New", 1, 0)})

	res, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"New"}, names(res))
}

func TestMemoryIndex_RejectsEmptyQuery(t *testing.T) {
	_, err := NewMemoryIndex(nil).Search(context.Background(), nil, 2)
	assert.Error(t, err)
}

func TestSnapshot_RebuildThenOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage", "index.json")
	entries := []types.IndexEntry{entry("Advil", 1, 0), entry("Tylenol", 0, 1)}
	entries[0].Attributes = map[string]string{"manufacturer": "Haleon"}

	require.NoError(t, SnapshotWriter{Path: path}.Rebuild(context.Background(), entries))

	idx, err := OpenSnapshot(path)
	require.NoError(t, err)
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := idx.Search(context.Background(), []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Tylenol", res[0].Name)
	assert.Equal(t, entries[1].DocID, res[0].DocID)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".index-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestOpenSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenSnapshot(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"version":99,"entries":[]}`), 0o644))
	_, err = OpenSnapshot(bad)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
