package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/app"
)

// parseSize accepts plain byte counts and human units such as 500MB or 2GiB.
func parseSize(key string) (int64, error) {
	s := viper.GetString(key)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return int64(n), nil
}

// loadConfig reads the shared cache settings. Serve-only settings are left
// at their zero values.
func loadConfig() (app.Config, error) {
	cfg := app.Config{
		CacheDir:           viper.GetString("cache-dir"),
		EvictionStrategy:   viper.GetString("eviction-strategy"),
		ProtectRatio:       viper.GetFloat64("protect-ratio"),
		AgeMode:            viper.GetString("age-mode"),
		Homeserver:         viper.GetString("homeserver"),
		AccessToken:        viper.GetString("access-token"),
		CACertPath:         viper.GetString("ca-cert"),
		FetchTimeout:       viper.GetDuration("fetch-timeout"),
		MaxConcurrentLoads: viper.GetInt("max-concurrent-loads"),
		LoadStaggerDelay:   viper.GetDuration("load-stagger"),
		MaxLoadWait:        viper.GetDuration("max-load-wait"),
	}

	var err error
	if cfg.MaxCacheSize, err = parseSize("max-cache-size"); err != nil {
		return cfg, err
	}
	if cfg.MinFreeSpace, err = parseSize("min-free-space"); err != nil {
		return cfg, err
	}
	if cfg.BandwidthLimit, err = parseSize("bandwidth-limit"); err != nil {
		return cfg, err
	}
	return cfg, nil
}
