// Package fetcher loads media through the cache, throttling downloads.
package fetcher

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/throttle"
)

// Source downloads media and reports its content type.
type Source interface {
	Fetch(ctx context.Context, locator string, out io.Writer) (string, error)
}

type Service struct {
	Store    *mediacache.Store
	Throttle *throttle.Throttle
	Source   Source
	// Progress optionally returns a writer that mirrors download progress.
	Progress func(locator string) io.Writer
}

func New(store *mediacache.Store, th *throttle.Throttle, src Source) *Service {
	return &Service{
		Store:    store,
		Throttle: th,
		Source:   src,
	}
}

// Load returns cached media for locator, downloading it on a miss.
// hit is false when this call performed the download.
func (s *Service) Load(ctx context.Context, locator string) (e *mediacache.Entry, hit bool, err error) {
	var fetched atomic.Bool
	e, err = s.Store.GetOrFetch(ctx, locator, func(ctx context.Context, w io.Writer) (mediacache.FileType, error) {
		fetched.Store(true)
		if s.Progress != nil {
			if pw := s.Progress(locator); pw != nil {
				w = io.MultiWriter(w, pw)
			}
		}

		var contentType string
		download := func(ctx context.Context) (err error) {
			contentType, err = s.Source.Fetch(ctx, locator, w)
			return err
		}
		var err error
		if s.Throttle != nil {
			err = s.Throttle.Do(ctx, download)
		} else {
			err = download(ctx)
		}
		if err != nil {
			return mediacache.FileTypeUnknown, err
		}
		return mediacache.FileTypeFromContentType(contentType), nil
	})
	if err != nil {
		return nil, false, err
	}
	if fetched.Load() {
		slog.Debug("Media downloaded", "locator", locator, "size", e.SizeBytes, "type", e.FileType)
	}
	return e, !fetched.Load(), nil
}
