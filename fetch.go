// Package andromuks downloads Matrix media for the gomuks media cache.
package andromuks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/shogo82148/go-sfv"
	"golang.org/x/time/rate"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
)

// MirrorsEnv holds a structured-field list of fallback media servers.
const MirrorsEnv = "ANDROMUKS_MEDIA_MIRRORS"

var (
	// ErrInvalidMXC is returned for locators that are neither mxc:// nor http(s) URLs.
	ErrInvalidMXC = errors.New("invalid media locator")

	// ErrPartialWrite is returned when data was already written to the output
	// before a failure occurred, making fallback to another source unsafe.
	ErrPartialWrite = errors.New("partial write")

	// ErrAllSourcesFailed is returned when no source could provide the content.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// HTTPStatusError is returned when a source responds with a non-200 status code.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Fetcher downloads media from a homeserver and optional mirrors.
type Fetcher struct {
	Client      *http.Client
	Homeserver  string
	AccessToken string
	// Mirrors are tried in order after the homeserver. They receive the same
	// download path but never the access token.
	Mirrors []string
	// Limiter caps download bandwidth in bytes per second when set.
	Limiter *rate.Limiter
}

func NewFetcher(client *http.Client, homeserver, accessToken string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	var mirrors []string
	if env := os.Getenv(MirrorsEnv); env != "" {
		list, err := sfv.DecodeList([]string{env})
		if err != nil {
			errutil.LogMsg(err, "Failed to parse "+MirrorsEnv)
		} else {
			for _, item := range list {
				if s, ok := item.Value.(string); ok {
					mirrors = append(mirrors, s)
				}
			}
		}
	}

	return &Fetcher{
		Client:      client,
		Homeserver:  homeserver,
		AccessToken: accessToken,
		Mirrors:     mirrors,
	}
}

// NewLimiter returns a limiter allowing bytesPerSec, or nil when unlimited.
func NewLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst > chunkSize {
		burst = chunkSize
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// ResolveMXC maps a media locator to a download URL on homeserver.
//
// mxc://server/id becomes {homeserver}/_matrix/client/v1/media/download/server/id.
// http and https URLs are returned unchanged.
func ResolveMXC(homeserver, locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMXC, err)
	}
	switch u.Scheme {
	case "http", "https":
		return locator, nil
	case "mxc":
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidMXC, locator)
	}

	mediaID := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || mediaID == "" || strings.Contains(mediaID, "/") {
		return "", fmt.Errorf("%w: %s", ErrInvalidMXC, locator)
	}
	if homeserver == "" {
		return "", fmt.Errorf("%w: no homeserver to resolve %s", ErrInvalidMXC, locator)
	}
	base := strings.TrimRight(homeserver, "/")
	return fmt.Sprintf("%s/_matrix/client/v1/media/download/%s/%s",
		base, url.PathEscape(u.Host), url.PathEscape(mediaID)), nil
}

// ClassifyContentType names the coarse media type of a MIME content type.
func ClassifyContentType(contentType string) string {
	return mediacache.FileTypeFromContentType(contentType).String()
}

// Fetch writes the media behind locator to out and returns its content type.
func (f *Fetcher) Fetch(ctx context.Context, locator string, out io.Writer) (string, error) {
	type source struct {
		url  string
		auth bool
	}

	var sources []source
	if strings.HasPrefix(locator, "mxc://") {
		primary, err := ResolveMXC(f.Homeserver, locator)
		if err != nil {
			return "", err
		}
		sources = append(sources, source{url: primary, auth: true})
		for _, m := range f.Mirrors {
			u, err := ResolveMXC(m, locator)
			if err != nil {
				errutil.LogMsg(err, "Skipping mirror", "mirror", m)
				continue
			}
			sources = append(sources, source{url: u})
		}
	} else {
		u, err := ResolveMXC(f.Homeserver, locator)
		if err != nil {
			return "", err
		}
		sources = append(sources, source{url: u})
	}

	cw := &countingWriter{Writer: out}
	var lastErr error
	for _, src := range sources {
		var contentType string
		contentType, lastErr = f.fetchOne(ctx, src.url, src.auth, cw)
		if lastErr == nil {
			return contentType, nil
		}
		errutil.LogMsg(lastErr, "Failed to fetch media", "url", src.url)
		if cw.N > 0 {
			return "", fmt.Errorf("%w: %w", ErrPartialWrite, lastErr)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %w", ErrAllSourcesFailed, lastErr)
}

func (f *Fetcher) fetchOne(ctx context.Context, u string, auth bool, out io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if auth && f.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.AccessToken)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.Limiter != nil {
		body = &limitedReader{ctx: ctx, r: resp.Body, limiter: f.Limiter}
	}
	if _, err := io.Copy(out, body); err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}

const chunkSize = 32 * 1024

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if limit := l.limiter.Burst(); len(p) > limit {
		p = p[:limit]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
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
