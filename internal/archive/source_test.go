package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	destA = "11111111-1111-1111-1111-111111111111"
	destB = "22222222-2222-2222-2222-222222222222"
)

// newArchiveDir builds an on-disk archive tree for DirSource tests.
func newArchiveDir(t *testing.T, files map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for dest, names := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dest), 0o755))
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(root, dest, name), []byte(name), 0o644))
		}
	}
	return root
}

func TestDirSource_ListDestinations(t *testing.T) {
	root := newArchiveDir(t, map[string][]string{
		destB: {"2023-06-01.json.zz"},
		destA: {"2023-06-01.json.zz"},
	})
	// Non-UUID entries are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-uuid"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0o644))

	src := NewDirSource(root)
	dests, err := src.ListDestinations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{destA, destB}, dests)
}

func TestDirSource_ListFiles(t *testing.T) {
	root := newArchiveDir(t, map[string][]string{
		destA: {
			"2023-06-03.json.zz",
			"2023-06-01.json.zz",
			"2023-06-02.json.zz",
			"notes.txt",
			"not-a-date.json.zz",
		},
	})
	src := NewDirSource(root)

	day := func(d int) time.Time { return time.Date(2023, 6, d, 0, 0, 0, 0, time.UTC) }

	t.Run("Unbounded listing is sorted", func(t *testing.T) {
		refs, err := src.ListFiles(context.Background(), destA, nil, nil)
		require.NoError(t, err)
		require.Len(t, refs, 3)
		assert.Equal(t, "2023-06-01.json.zz", refs[0].Key)
		assert.Equal(t, "2023-06-02.json.zz", refs[1].Key)
		assert.Equal(t, "2023-06-03.json.zz", refs[2].Key)
		assert.Equal(t, day(1), refs[0].Date)
	})

	t.Run("Range bounds are inclusive", func(t *testing.T) {
		start, end := day(2), day(3)
		refs, err := src.ListFiles(context.Background(), destA, &start, &end)
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "2023-06-02.json.zz", refs[0].Key)
		assert.Equal(t, "2023-06-03.json.zz", refs[1].Key)
	})

	t.Run("Unknown destination yields no files", func(t *testing.T) {
		refs, err := src.ListFiles(context.Background(), destB, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}

func TestDirSource_Fetch(t *testing.T) {
	root := newArchiveDir(t, map[string][]string{
		destA: {"2023-06-01.json.zz"},
	})
	src := NewDirSource(root)

	b, err := src.Fetch(context.Background(), destA, FileRef{Key: "2023-06-01.json.zz"})
	require.NoError(t, err)
	assert.Equal(t, []byte("2023-06-01.json.zz"), b)

	_, err = src.Fetch(context.Background(), destA, FileRef{Key: "2023-06-09.json.zz"})
	assert.Error(t, err)
}

func TestParseFileDate(t *testing.T) {
	d, ok := parseFileDate("11111111-1111-1111-1111-111111111111/2023-06-01.json.zz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), d)

	_, ok = parseFileDate("2023-06-01.csv")
	assert.False(t, ok)
}
