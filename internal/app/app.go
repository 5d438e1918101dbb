// Package app wires the media cache, loader, network monitor and HTTP API
// together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	andromuks "github.com/ricardo-duarte-av/andromuks-sub007"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/db"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction"
	_ "github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction/lru"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction/policy"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction/policy/maxsize"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction/policy/minfree"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction/scored"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/fetcher"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/httpclient"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/metrics"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/priority"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/throttle"
)

// IndexFile is the name of the persisted index inside the cache directory.
const IndexFile = "index.db"

type Config struct {
	Port     int
	CacheDir string

	MaxCacheSize     int64
	MinFreeSpace     int64
	EvictionInterval time.Duration
	EvictionStrategy string
	// MaxAge removes entries that stayed invisible and unused for longer.
	// Zero disables age based cleanup.
	MaxAge       time.Duration
	ProtectRatio float64
	AgeMode      string

	Homeserver     string
	AccessToken    string
	CACertPath     string
	FetchTimeout   time.Duration
	BandwidthLimit int64

	MaxConcurrentLoads int
	LoadStaggerDelay   time.Duration
	MaxLoadWait        time.Duration

	// NetworkPollInterval is how often interfaces are rescanned.
	// A negative value disables network monitoring.
	NetworkPollInterval time.Duration
	// BackendURL enables reconnection of the sync backend on network changes.
	BackendURL string

	Metrics bool
}

// App holds the wired components. Close releases them.
type App struct {
	Config   Config
	Store    *mediacache.Store
	Index    *db.DB
	Throttle *throttle.Throttle
	Fetcher  *andromuks.Fetcher
	Service  *fetcher.Service
	Registry *prometheus.Registry
}

// Open builds the cache stack and loads the cache directory. It does not
// start any background work.
func Open(ctx context.Context, cfg Config) (*App, error) {
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if cfg.EvictionStrategy == "" {
		cfg.EvictionStrategy = scored.Name
	}

	strat, err := eviction.GetStrategy(cfg.EvictionStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize eviction strategy: %w", err)
	}
	ageMode, err := priority.ParseAgeMode(cfg.AgeMode)
	if err != nil {
		return nil, err
	}

	var policies []policy.Policy
	if cfg.MaxCacheSize > 0 {
		slog.Info("Adding MaxCacheSize policy", "max_size", cfg.MaxCacheSize)
		policies = append(policies, &maxsize.Policy{MaxBytes: cfg.MaxCacheSize})
	}
	if cfg.MinFreeSpace > 0 {
		slog.Info("Adding MinFreeSpace policy", "min_free", cfg.MinFreeSpace)
		policies = append(policies, &minfree.Policy{
			Path:         cfg.CacheDir,
			MinFreeBytes: cfg.MinFreeSpace,
		})
	}
	if len(policies) == 0 {
		slog.Info("No eviction policies configured (unlimited cache)")
	}

	var reg *prometheus.Registry
	if cfg.Metrics {
		reg = metrics.NewRegistry()
	}

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	dbPath := filepath.Join(cfg.CacheDir, IndexFile)
	index, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", dbPath, err)
	}

	scorer := priority.Default()
	scorer.Age = ageMode
	store, err := mediacache.New(mediacache.Config{
		Dir:     cfg.CacheDir,
		Planner: eviction.NewPlanner(policies, strat, cfg.MaxCacheSize, cfg.ProtectRatio),
		Scorer:  scorer,
		Index:   index,
		Metrics: metrics.NewCacheMetrics(registerer(reg)),
	})
	if err != nil {
		errutil.Close(index, "Failed to close index")
		return nil, err
	}

	if err := store.LoadInitialState(ctx); err != nil {
		errutil.LogMsg(err, "Failed to load initial cache state")
	}

	client, err := httpclient.NewClientFromFile(cfg.CACertPath, cfg.FetchTimeout)
	if err != nil {
		errutil.Close(index, "Failed to close index")
		return nil, err
	}
	f := andromuks.NewFetcher(client, cfg.Homeserver, cfg.AccessToken)
	f.Limiter = andromuks.NewLimiter(cfg.BandwidthLimit)

	th := throttle.New(throttle.Config{
		MaxConcurrent: cfg.MaxConcurrentLoads,
		BaseDelay:     cfg.LoadStaggerDelay,
		MaxWait:       cfg.MaxLoadWait,
		Metrics:       metrics.NewThrottleMetrics(registerer(reg)),
	})

	return &App{
		Config:   cfg,
		Store:    store,
		Index:    index,
		Throttle: th,
		Fetcher:  f,
		Service:  fetcher.New(store, th, f),
		Registry: reg,
	}, nil
}

// Close persists access statistics and closes the index.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errutil.LogMsg(a.Store.Flush(ctx), "Failed to flush cache index")
	return a.Index.Close()
}

// registerer avoids handing a typed nil registry to the metrics constructors.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}
