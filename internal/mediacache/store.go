package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/hashutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/priority"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

// indexTimeout bounds persisted index writes issued from cache operations.
const indexTimeout = 5 * time.Second

// Config configures a Store.
type Config struct {
	// Dir is the cache root. Media lives in {Dir}/sha256/{key}.
	Dir string
	// Planner selects eviction victims. Nil disables eviction.
	Planner *eviction.Planner
	// Scorer computes entry priorities.
	Scorer priority.Scorer
	// Index optionally persists entry metadata.
	Index Index
	// Metrics optionally receives cache events.
	Metrics Metrics
	// Now overrides the clock.
	Now func() time.Time
}

// Store is the authoritative index of cached media.
//
// Every mutation of the index, including eviction, happens under a single
// mutex. Downloads are written to temporary files outside the lock and only
// moved into place under it. Persisted index writes also happen outside it.
type Store struct {
	dir      string
	mediaDir string
	planner  *eviction.Planner
	scorer   priority.Scorer
	index    Index
	metrics  Metrics
	now      func() time.Time
	rename   func(oldpath, newpath string) error

	mu        sync.Mutex
	entries   map[string]*Entry
	visible   map[string]struct{}
	totalSize int64
	dirty     map[string]struct{}

	g singleflight.Group
}

// New creates a Store rooted at cfg.Dir, creating the directory if needed.
// The index starts empty; call LoadInitialState to adopt files already on disk.
func New(cfg Config) (*Store, error) {
	mediaDir := filepath.Join(cfg.Dir, hashutil.KeyAlgo)
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		dir:      cfg.Dir,
		mediaDir: mediaDir,
		planner:  cfg.Planner,
		scorer:   cfg.Scorer,
		index:    cfg.Index,
		metrics:  cfg.Metrics,
		now:      now,
		rename:   os.Rename,
		entries:  make(map[string]*Entry),
		visible:  make(map[string]struct{}),
		dirty:    make(map[string]struct{}),
	}, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the canonical file path of a key.
func (s *Store) PathFor(key string) string {
	return filepath.Join(s.mediaDir, key)
}

// Get looks up cached media by its remote locator.
//
// A hit refreshes the access statistics and priority. The backing file is
// checked on every call; a missing or empty file drops the entry and counts
// as a miss.
func (s *Store) Get(locator string) (*Entry, bool) {
	key := hashutil.DeriveKey(locator)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		s.recordMiss()
		return nil, false
	}

	info, err := os.Stat(e.FilePath)
	if err != nil || info.Size() == 0 {
		slog.Warn("Dropping stale cache entry", "key", key, "path", e.FilePath, "error", err)
		if err == nil {
			errutil.LogMsg(os.Remove(e.FilePath), "Failed to remove empty cache file", "path", e.FilePath)
		}
		s.dropLocked(key)
		s.mu.Unlock()
		s.deleteFromIndex(key)
		s.recordMiss()
		return nil, false
	}

	now := s.now()
	// Files adopted from disk without an index row learn their locator here.
	adopted := e.RemoteLocator == ""
	if adopted {
		e.RemoteLocator = locator
	}
	e.AccessCount++
	e.LastAccessedAt = now
	e.Priority = s.score(e, now)
	s.dirty[key] = struct{}{}
	out := e.clone()
	rec := e.record()
	s.mu.Unlock()

	if adopted {
		s.upsertIndex(rec)
	}

	if s.metrics != nil {
		s.metrics.RecordHit()
	}
	return out, true
}

// Put records the media at filePath as the cached copy of locator and then
// enforces the size budget. Files outside the cache directory are moved in,
// by copying when they live on another filesystem; from then on the store
// owns the file.
func (s *Store) Put(locator, filePath string, size int64, fileType FileType) error {
	if filepath.Dir(filePath) != s.mediaDir {
		staged, err := s.stage(filePath)
		if err != nil {
			return err
		}
		// After a successful put the file has been renamed and this is a no-op.
		defer func() { _ = os.Remove(staged) }()
		filePath = staged
	}
	_, err := s.put(locator, filePath, size, fileType)
	return err
}

// stage moves filePath to a temporary file in the media directory without
// holding the store lock.
func (s *Store) stage(filePath string) (string, error) {
	tmp, err := os.CreateTemp(s.mediaDir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	errutil.LogMsg(tmp.Close(), "Failed to close temp file", "path", tmpPath)

	err = s.rename(filePath, tmpPath)
	if err == nil {
		return tmpPath, nil
	}
	if !errors.Is(err, unix.EXDEV) {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move media into cache: %w", err)
	}
	if err := copyFile(filePath, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to copy media into cache: %w", err)
	}
	errutil.LogMsg(os.Remove(filePath), "Failed to remove copied media", "path", filePath)
	return tmpPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer errutil.Close(in, "Failed to close media source", "path", src)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *Store) put(locator, filePath string, size int64, fileType FileType) (*Entry, error) {
	key := hashutil.DeriveKey(locator)
	dst := s.PathFor(key)

	s.mu.Lock()
	if filePath != dst {
		if err := s.rename(filePath, dst); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to move media into cache: %w", err)
		}
	}

	now := s.now()
	e := &Entry{
		MediaKey:       key,
		RemoteLocator:  locator,
		FilePath:       dst,
		SizeBytes:      size,
		LastAccessedAt: now,
		FileType:       fileType,
	}
	if old, ok := s.entries[key]; ok {
		s.totalSize -= old.SizeBytes
		e.AccessCount = old.AccessCount
	}
	_, e.IsVisible = s.visible[key]
	e.Priority = s.score(e, now)

	s.entries[key] = e
	s.totalSize += size
	rec := e.record()

	evicted := s.enforceLocked()
	_, retained := s.entries[key]
	out := e.clone()
	s.reportSizeLocked()
	s.mu.Unlock()

	s.upsertIndex(rec)
	s.deleteEvicted(evicted)

	slog.Debug("Stored media", "key", key, "size", size, "type", fileType)
	if !retained {
		return nil, fmt.Errorf("%w: %s", ErrNotRetained, key)
	}
	return out, nil
}

// UpdateVisibility replaces the set of locators currently in the viewport.
// Only entries whose visibility flips get their priority recomputed.
// Callers scrolling at frame rate should coalesce updates before calling.
func (s *Store) UpdateVisibility(locators []string) {
	next := make(map[string]struct{}, len(locators))
	for _, l := range locators {
		next[hashutil.DeriveKey(l)] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		_, vis := next[key]
		if vis != e.IsVisible {
			e.IsVisible = vis
			e.Priority = s.score(e, now)
		}
	}
	s.visible = next
}

// Remove deletes cached media. File removal is best effort.
func (s *Store) Remove(locator string) {
	key := hashutil.DeriveKey(locator)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
		errutil.LogMsg(err, "Failed to remove cached media", "key", key)
	}
	s.dropLocked(key)
	s.reportSizeLocked()
	s.mu.Unlock()

	s.deleteFromIndex(key)
}

// Clear removes every cached file, including files the index never knew about.
func (s *Store) Clear() {
	s.mu.Lock()
	files, err := os.ReadDir(s.mediaDir)
	errutil.LogMsg(err, "Failed to list cache dir", "dir", s.mediaDir)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		path := filepath.Join(s.mediaDir, f.Name())
		errutil.LogMsg(os.Remove(path), "Failed to remove cached media", "path", path)
	}
	count := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.dirty = make(map[string]struct{})
	s.totalSize = 0
	s.reportSizeLocked()
	s.mu.Unlock()

	if s.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		errutil.LogMsg(s.index.DeleteAll(ctx), "Failed to clear cache index")
	}
	slog.Info("Cleared media cache", "entries", count)
}

// Stats returns a snapshot of the cache.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Count: len(s.entries), TotalSize: s.totalSize}
	var accesses int64
	for _, e := range s.entries {
		if e.IsVisible {
			st.VisibleCount++
		}
		accesses += e.AccessCount
	}
	if st.Count > 0 {
		st.AvgAccessCount = float64(accesses) / float64(st.Count)
	}
	if s.planner != nil && s.planner.Ceiling > 0 {
		st.UtilizationPercent = float64(s.totalSize) / float64(s.planner.Ceiling) * 100
	}
	return st
}

// Enforce evicts entries until the cache is within budget.
func (s *Store) Enforce() {
	s.mu.Lock()
	evicted := s.enforceLocked()
	s.reportSizeLocked()
	s.mu.Unlock()

	s.deleteEvicted(evicted)
}

// CleanupOlderThan removes entries that are not visible and were last
// accessed more than maxAge ago.
func (s *Store) CleanupOlderThan(maxAge time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-maxAge)
	var removed []eviction.Victim
	for key, e := range s.entries {
		if e.IsVisible || !e.LastAccessedAt.Before(cutoff) {
			continue
		}
		v := eviction.Victim{Key: key, Size: e.SizeBytes}
		if err := s.evictLocked(v); err != nil {
			errutil.LogMsg(err, "Failed to remove idle cached media", "key", key)
			continue
		}
		removed = append(removed, v)
	}
	s.reportSizeLocked()
	s.mu.Unlock()

	s.deleteEvicted(removed)
	return len(removed)
}

// enforceLocked runs an eviction sweep with freshly computed priorities.
func (s *Store) enforceLocked() []eviction.Victim {
	if s.planner == nil || len(s.entries) == 0 {
		return nil
	}

	now := s.now()
	candidates := make([]eviction.Candidate, 0, len(s.entries))
	for key, e := range s.entries {
		e.Priority = s.score(e, now)
		candidates = append(candidates, eviction.Candidate{
			Key:        key,
			Size:       e.SizeBytes,
			Priority:   e.Priority,
			LastAccess: e.LastAccessedAt,
			Visible:    e.IsVisible,
		})
	}

	before := s.totalSize
	_, evicted := s.planner.Sweep(s.totalSize, candidates, s.evictLocked)
	if len(evicted) > 0 {
		slog.Info("Evicted cached media", "count", len(evicted), "size_before", before, "size_after", s.totalSize)
	}
	return evicted
}

// evictLocked deletes the file of a victim and, only if that worked,
// drops it from the index.
func (s *Store) evictLocked(v eviction.Victim) error {
	e, ok := s.entries[v.Key]
	if !ok {
		return nil
	}
	if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.dropLocked(v.Key)
	if s.metrics != nil {
		s.metrics.RecordEviction(v.Visible, v.Size)
	}
	return nil
}

func (s *Store) dropLocked(key string) {
	if e, ok := s.entries[key]; ok {
		s.totalSize -= e.SizeBytes
		delete(s.entries, key)
		delete(s.dirty, key)
	}
}

func (s *Store) score(e *Entry, now time.Time) float64 {
	return s.scorer.Score(e.AccessCount, e.LastAccessedAt, now, e.IsVisible)
}

func (s *Store) reportSizeLocked() {
	if s.metrics != nil {
		s.metrics.RecordSize(len(s.entries), s.totalSize)
	}
}

func (s *Store) recordMiss() {
	if s.metrics != nil {
		s.metrics.RecordMiss()
	}
}

func (s *Store) upsertIndex(rec Record) {
	if s.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	errutil.LogMsg(s.index.Upsert(ctx, rec), "Failed to persist cache entry", "key", rec.Key)
}

func (s *Store) deleteFromIndex(keys ...string) {
	if s.index == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	errutil.LogMsg(s.index.Delete(ctx, keys...), "Failed to delete cache index rows", "count", len(keys))
}

func (s *Store) deleteEvicted(victims []eviction.Victim) {
	if len(victims) == 0 {
		return
	}
	keys := make([]string, len(victims))
	for i, v := range victims {
		keys[i] = v.Key
	}
	s.deleteFromIndex(keys...)
}
