package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/handler"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/metrics"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/reconnect"
)

// NewServer opens the cache, starts the background workers and returns the
// API server. cleanup stops the workers and closes the cache.
func NewServer(cfg Config) (*http.Server, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	a, err := Open(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	var wg sync.WaitGroup
	mgr := eviction.NewManager(a.Store, cfg.EvictionInterval, cfg.MaxAge)
	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.Start(ctx)
	}()

	var listeners netmon.Listeners
	var rc *reconnect.Manager
	if cfg.BackendURL != "" {
		rc = reconnect.New(&reconnect.HTTPConnector{Client: a.Fetcher.Client, URL: cfg.BackendURL}, reconnect.DefaultConfig())
		rc.Start(ctx)
		listeners = append(listeners, rc)
	}
	if l := metrics.NewNetworkListener(registerer(a.Registry)); l != nil {
		listeners = append(listeners, l)
	}

	var monitor *netmon.Monitor
	if cfg.NetworkPollInterval >= 0 {
		monitor = netmon.NewMonitor(netmon.NewInterfaceSource(cfg.NetworkPollInterval), listeners)
		if err := monitor.Start(ctx); err != nil {
			// Media loading works without it; only reconnection is lost.
			errutil.LogMsg(err, "Network monitoring unavailable")
			monitor = nil
		}
	}

	h := &handler.MediaHandler{
		Loader: a.Service,
		Cache:  a.Store,
		Status: func() map[string]any {
			status := map[string]any{
				"throttle": map[string]int{"active": a.Throttle.Active()},
			}
			if rc != nil {
				status["backend"] = rc.Stats()
			}
			return status
		},
	}
	// A nil *Monitor must not end up in the interface.
	if monitor != nil {
		h.Network = monitor
	}

	var metricsHandler http.Handler
	if a.Registry != nil {
		metricsHandler = metrics.Handler(a.Registry)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Starting media cache server", "addr", addr, "cache_dir", cfg.CacheDir, "homeserver", cfg.Homeserver)

	server := &http.Server{
		Addr:    addr,
		Handler: handler.NewRouter(h, metricsHandler),
	}

	cleanup := func() {
		if monitor != nil {
			monitor.Stop()
		}
		if rc != nil {
			rc.Stop()
		}
		cancel()
		// The manager flushes on exit, so wait before closing the index.
		wg.Wait()
		errutil.LogMsg(a.Close(), "Failed to close cache index")
	}

	return server, cleanup, nil
}
