// Package handler exposes the media cache over HTTP for the app process.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shogo82148/go-sfv"

	andromuks "github.com/ricardo-duarte-av/andromuks-sub007"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/throttle"
)

// VisibleHeader carries the visible locators as a structured-field list.
const VisibleHeader = "Visible-Media"

// Loader returns cached media, downloading it on a miss.
type Loader interface {
	Load(ctx context.Context, locator string) (*mediacache.Entry, bool, error)
}

// Cache is the part of the store the API manipulates directly.
type Cache interface {
	Get(locator string) (*mediacache.Entry, bool)
	Remove(locator string)
	UpdateVisibility(locators []string)
	Stats() mediacache.Stats
}

// Network reports the monitor's view of connectivity.
type Network interface {
	State() netmon.State
}

// MediaHandler serves the cache API.
type MediaHandler struct {
	Loader  Loader
	Cache   Cache
	Network Network
	// Status optionally adds extra sections to GET /stats.
	Status func() map[string]any
}

type visibleRequest struct {
	Locators []string `json:"locators"`
}

// NewRouter mounts the API and, when metrics is not nil, /metrics.
func NewRouter(h *MediaHandler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/media", h.GetMedia)
	r.Head("/media", h.HeadMedia)
	r.Delete("/media", h.DeleteMedia)
	r.Put("/visible", h.PutVisible)
	r.Get("/stats", h.GetStats)
	r.Get("/network", h.GetNetwork)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func locatorParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	locator := r.URL.Query().Get("locator")
	if locator == "" {
		http.Error(w, "Missing locator parameter", http.StatusBadRequest)
		return "", false
	}
	return locator, true
}

// GetMedia handles GET /media?locator=...
func (h *MediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	locator, ok := locatorParam(w, r)
	if !ok {
		return
	}

	e, hit, err := h.Loader.Load(r.Context(), locator)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			slog.Error("Failed to load media", "locator", locator, "error", err)
		}
		http.Error(w, fmt.Sprintf("Failed to load media: %v", err), status)
		return
	}

	f, err := os.Open(e.FilePath)
	if err != nil {
		// Evicted between load and open.
		slog.Warn("Cached media disappeared before serving", "locator", locator, "error", err)
		http.Error(w, "Media evicted, retry", http.StatusServiceUnavailable)
		return
	}
	defer errutil.Close(f, "Failed to close cached media", "path", e.FilePath)

	setCacheHeaders(w, e, hit)
	http.ServeContent(w, r, "", e.LastAccessedAt, f)
}

// HeadMedia handles HEAD /media?locator=... without downloading.
func (h *MediaHandler) HeadMedia(w http.ResponseWriter, r *http.Request) {
	locator, ok := locatorParam(w, r)
	if !ok {
		return
	}
	e, found := h.Cache.Get(locator)
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	setCacheHeaders(w, e, true)
	w.Header().Set("Content-Length", strconv.FormatInt(e.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
}

// DeleteMedia handles DELETE /media?locator=...
func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	locator, ok := locatorParam(w, r)
	if !ok {
		return
	}
	h.Cache.Remove(locator)
	w.WriteHeader(http.StatusNoContent)
}

// PutVisible handles PUT /visible. The visible set comes from the
// Visible-Media header when present, otherwise from a JSON body.
func (h *MediaHandler) PutVisible(w http.ResponseWriter, r *http.Request) {
	var locators []string
	if values := r.Header.Values(VisibleHeader); len(values) > 0 {
		list, err := sfv.DecodeList(values)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid %s header: %v", VisibleHeader, err), http.StatusBadRequest)
			return
		}
		for _, item := range list {
			s, ok := item.Value.(string)
			if !ok {
				http.Error(w, fmt.Sprintf("Invalid %s header: items must be strings", VisibleHeader), http.StatusBadRequest)
				return
			}
			locators = append(locators, s)
		}
	} else {
		var req visibleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		locators = req.Locators
	}

	h.Cache.UpdateVisibility(locators)
	slog.Debug("Visible set updated", "count", len(locators))
	w.WriteHeader(http.StatusNoContent)
}

// GetStats handles GET /stats.
func (h *MediaHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"cache": h.Cache.Stats()}
	if h.Status != nil {
		for k, v := range h.Status() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetNetwork handles GET /network.
func (h *MediaHandler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	if h.Network == nil {
		http.Error(w, "Network monitoring disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Network.State())
}

func statusFor(err error) int {
	var httpErr *andromuks.HTTPStatusError
	switch {
	case errors.Is(err, andromuks.ErrInvalidMXC):
		return http.StatusBadRequest
	case errors.Is(err, throttle.ErrWaitTimeout), errors.Is(err, mediacache.ErrNotRetained):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// setCacheHeaders marks responses immutable since a locator never changes content.
func setCacheHeaders(w http.ResponseWriter, e *mediacache.Entry, hit bool) {
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Media-Key", e.MediaKey)
	w.Header().Set("X-Media-Type", e.FileType.String())
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errutil.LogMsg(json.NewEncoder(w).Encode(v), "Failed to encode response")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Request completed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
