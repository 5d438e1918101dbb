package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "andromuks-media",
	Short: "Viewport prioritized media cache for andromuks",
	Long: `andromuks-media keeps downloaded Matrix media on disk, evicts what the user
is least likely to look at again and serves it to the app over a local HTTP API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"), viper.GetString("log-format"))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (YAML)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("cache-dir", "./media-cache", "Directory to store cached media")
	flags.String("max-cache-size", "500MB", "Max cache size, e.g. 500MB or 2GiB")
	flags.String("min-free-space", "0", "Min free disk space to keep, 0 disables")
	flags.String("eviction-strategy", "priority", "Eviction strategy (priority, lru)")
	flags.Float64("protect-ratio", 0.8, "Share of the max size below which visible media is never evicted")
	flags.String("age-mode", "decay", "How idle time affects priority (decay, legacy)")
	flags.String("homeserver", "", "Homeserver base URL used to resolve mxc:// locators")
	flags.String("access-token", "", "Access token sent to the homeserver")
	flags.String("ca-cert", "", "Extra CA certificate (PEM) trusted for downloads")
	flags.Duration("fetch-timeout", 0, "Timeout for a single download, 0 uses the default")
	flags.String("bandwidth-limit", "0", "Download bandwidth limit per second, 0 disables")
	flags.Int("max-concurrent-loads", 5, "Max simultaneous media loads")
	flags.Duration("load-stagger", 0, "Stagger step between admitted loads, 0 uses the default")
	flags.Duration("max-load-wait", 0, "Max wait for a load slot, 0 waits indefinitely")

	bindFlags(flags)
}

func initConfig() {
	viper.SetEnvPrefix("ANDROMUKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			errutil.ReportError(err, "Failed to read config file", "path", cfgFile)
			os.Exit(1)
		}
	}
}

// bindFlags makes every flag in fs resolvable through viper under its own name.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		errutil.ReportError(viper.BindPFlag(f.Name, f), "Failed to bind flag", "flag", f.Name)
	})
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
