package mediacache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/hashutil"
)

// LoadInitialState adopts media already present in the cache directory.
//
// Files are matched against the persisted index when one is configured, which
// restores their locators and access statistics. Unknown files get
// conservative defaults: no recorded accesses and their modification time as
// last access. Leftover temporary files and empty files are deleted, and index
// rows without a file are dropped. The size budget is enforced afterwards.
func (s *Store) LoadInitialState(ctx context.Context) error {
	var persisted map[string]Record
	if s.index != nil {
		var err error
		persisted, err = s.index.Load(ctx)
		if err != nil {
			errutil.LogMsg(err, "Failed to load cache index, rebuilding from disk only")
			persisted = nil
		}
	}

	files, err := os.ReadDir(s.mediaDir)
	if err != nil {
		return fmt.Errorf("failed to walk cache: %w", err)
	}

	loaded := make([]*Entry, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		path := filepath.Join(s.mediaDir, name)

		if strings.HasPrefix(name, tempPrefix) {
			errutil.LogMsg(os.Remove(path), "Failed to remove leftover temp file", "path", path)
			continue
		}
		if !hashutil.ValidKey(name) {
			slog.Debug("Ignoring foreign file in cache dir", "path", path)
			continue
		}

		info, err := f.Info()
		if err != nil {
			errutil.LogMsg(err, "Failed to stat cached media", "path", path)
			continue
		}
		if info.Size() == 0 {
			errutil.LogMsg(os.Remove(path), "Failed to remove empty cache file", "path", path)
			continue
		}

		e := &Entry{
			MediaKey:       name,
			FilePath:       path,
			SizeBytes:      info.Size(),
			LastAccessedAt: info.ModTime(),
		}
		if rec, ok := persisted[name]; ok {
			e.RemoteLocator = rec.Locator
			e.AccessCount = rec.AccessCount
			e.FileType = rec.FileType
			if !rec.LastAccessedAt.IsZero() {
				e.LastAccessedAt = rec.LastAccessedAt
			}
			delete(persisted, name)
		}
		loaded = append(loaded, e)
	}

	s.mu.Lock()
	now := s.now()
	var adopted int
	for _, e := range loaded {
		if _, exists := s.entries[e.MediaKey]; exists {
			continue
		}
		_, e.IsVisible = s.visible[e.MediaKey]
		e.Priority = s.score(e, now)
		s.entries[e.MediaKey] = e
		s.totalSize += e.SizeBytes
		adopted++
	}
	total := s.totalSize
	s.mu.Unlock()

	orphans := make([]string, 0, len(persisted))
	for key := range persisted {
		orphans = append(orphans, key)
	}
	s.deleteFromIndex(orphans...)

	slog.Info("Initial cache state loaded", "count", adopted, "size", total, "orphaned_rows", len(orphans))
	s.Enforce()
	return nil
}

// Flush persists the access statistics of entries touched since the last flush.
func (s *Store) Flush(ctx context.Context) error {
	if s.index == nil {
		return nil
	}

	s.mu.Lock()
	recs := make([]Record, 0, len(s.dirty))
	for key := range s.dirty {
		if e, ok := s.entries[key]; ok {
			recs = append(recs, e.record())
		}
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	if len(recs) == 0 {
		return nil
	}
	if err := s.index.SaveStats(ctx, recs); err != nil {
		s.mu.Lock()
		for _, r := range recs {
			if _, ok := s.entries[r.Key]; ok {
				s.dirty[r.Key] = struct{}{}
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to save access stats: %w", err)
	}
	return nil
}
