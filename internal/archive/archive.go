// Package archive bundles the per-row outputs of a job into one zip.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"

	"deckgen/internal/storage"
)

const ContentType = "application/zip"

var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Entry names one stored object and the path it takes inside the archive.
type Entry struct {
	Name string
	Key  string
}

// Build downloads every entry and zips them in order. Any failed download
// fails the whole archive; no partial archive is ever returned.
func Build(ctx context.Context, store storage.Store, entries []Entry) ([]byte, error) {
	return BuildWithProgress(ctx, store, entries, nil)
}

// BuildWithProgress is Build with a callback after each entry is written.
func BuildWithProgress(ctx context.Context, store storage.Store, entries []Entry, onEntry func(done, total int)) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("archive: no entries")
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("archive: duplicate entry %q", e.Name)
		}
		seen[e.Name] = true

		data, err := store.Download(ctx, e.Key)
		if err != nil {
			return nil, fmt.Errorf("archive: fetch %s: %w", e.Key, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: entryTime})
		if err != nil {
			return nil, fmt.Errorf("archive: add %s: %w", e.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("archive: write %s: %w", e.Name, err)
		}
		if onEntry != nil {
			onEntry(i+1, len(entries))
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close: %w", err)
	}
	return buf.Bytes(), nil
}
