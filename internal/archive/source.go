package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// blobSuffix is the extension of a dated archive blob (zlib-compressed JSON).
const blobSuffix = ".json.zz"

// FileRef identifies one dated archive blob for a destination.
type FileRef struct {
	Key  string // storage key relative to the destination prefix
	Date time.Time
}

// Source enumerates and fetches archive blobs from a storage backend.
type Source interface {
	// ListDestinations returns the destination UUIDs present in the archive.
	ListDestinations(ctx context.Context) ([]string, error)
	// ListFiles returns the dated blobs for a destination within the
	// optional [start, end] range, sorted chronologically.
	ListFiles(ctx context.Context, destinationID string, start, end *time.Time) ([]FileRef, error)
	// Fetch retrieves one blob.
	Fetch(ctx context.Context, destinationID string, ref FileRef) ([]byte, error)
}

// parseFileDate extracts the date from a blob key like "2019-06-01.json.zz".
func parseFileDate(key string) (time.Time, bool) {
	base := strings.TrimSuffix(filepath.Base(key), blobSuffix)
	t, err := time.Parse("2006-01-02", base)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// inRange reports whether d falls inside the optional [start, end] window.
func inRange(d time.Time, start, end *time.Time) bool {
	if start != nil && d.Before(*start) {
		return false
	}
	if end != nil && d.After(*end) {
		return false
	}
	return true
}

func sortRefs(refs []FileRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Date.Before(refs[j].Date) })
}

// DirSource reads archive blobs from a local directory tree laid out as
// <root>/<destination-uuid>/<YYYY-MM-DD>.json.zz. It backs tests and offline
// replays of downloaded archives.
type DirSource struct {
	root    string
	limiter *rate.Limiter
}

// NewDirSource creates a directory-backed source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir, limiter: rate.NewLimiter(rate.Inf, 1)}
}

// ListDestinations returns subdirectory names that parse as UUIDs.
func (s *DirSource) ListDestinations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}

	var dests []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dests = append(dests, e.Name())
	}
	sort.Strings(dests)
	return dests, nil
}

// ListFiles returns the dated blobs under the destination directory.
func (s *DirSource) ListFiles(ctx context.Context, destinationID string, start, end *time.Time) ([]FileRef, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, destinationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list files for %s: %w", destinationID, err)
	}

	var refs []FileRef
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobSuffix) {
			continue
		}
		d, ok := parseFileDate(e.Name())
		if !ok || !inRange(d, start, end) {
			continue
		}
		refs = append(refs, FileRef{Key: e.Name(), Date: d})
	}
	sortRefs(refs)
	return refs, nil
}

// Fetch reads one blob from disk.
func (s *DirSource) Fetch(ctx context.Context, destinationID string, ref FileRef) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.root, destinationID, ref.Key))
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", destinationID, ref.Key, err)
	}
	return b, nil
}
