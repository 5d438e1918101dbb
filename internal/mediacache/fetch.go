package mediacache

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/hashutil"
)

const tempPrefix = "put-"

// FetchFunc downloads media into w and reports its type.
type FetchFunc func(ctx context.Context, w io.Writer) (FileType, error)

// Write stores the bytes read from r as the cached copy of locator.
func (s *Store) Write(ctx context.Context, locator string, r io.Reader, fileType FileType) (*Entry, error) {
	return s.fill(ctx, locator, func(_ context.Context, w io.Writer) (FileType, error) {
		_, err := io.Copy(w, r)
		return fileType, err
	})
}

// GetOrFetch returns cached media, downloading it with fetch on a miss.
//
// Concurrent misses for the same locator share a single download.
func (s *Store) GetOrFetch(ctx context.Context, locator string, fetch FetchFunc) (*Entry, error) {
	if e, ok := s.Get(locator); ok {
		return e, nil
	}

	key := hashutil.DeriveKey(locator)
	v, err, _ := s.g.Do(key, func() (interface{}, error) {
		// Another caller may have stored it while we waited.
		if e, ok := s.peek(key); ok {
			return *e, nil
		}
		e, err := s.fill(ctx, locator, fetch)
		if err != nil {
			return nil, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, err
	}
	e := v.(Entry)
	return &e, nil
}

// fill streams a download to a temporary file outside the store lock and
// then hands the file to put.
func (s *Store) fill(ctx context.Context, locator string, fetch FetchFunc) (*Entry, error) {
	start := time.Now()

	tmp, err := os.CreateTemp(s.mediaDir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	// After a successful put the file has been renamed and this is a no-op.
	defer func() { _ = os.Remove(tmpPath) }()

	cw := &countingWriter{Writer: tmp}
	fileType, err := fetch(ctx, cw)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		return nil, err
	}
	if cw.N == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, locator)
	}

	e, err := s.put(locator, tmpPath, cw.N, fileType)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveStore(cw.N, time.Since(start))
	}
	return e, nil
}

// peek returns an entry without touching its access statistics.
func (s *Store) peek(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

type countingWriter struct {
	Writer io.Writer
	N      int64
}

func (c *countingWriter) Write(p []byte) (n int, err error) {
	n, err = c.Writer.Write(p)
	c.N += int64(n)
	return n, err
}
