package main

import (
	"log/slog"
	"os"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/app"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear [locator...]",
	Short: "Remove cached media",
	Long:  `Removes the given locators from the cache, or everything when none are given.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			errutil.ReportError(err, "Invalid configuration")
			os.Exit(1)
		}
		a, err := app.Open(cmd.Context(), cfg)
		if err != nil {
			errutil.ReportError(err, "Failed to open cache")
			os.Exit(1)
		}
		defer func() {
			errutil.LogMsg(a.Close(), "Failed to close cache")
		}()

		if len(args) == 0 {
			before := a.Store.Stats()
			a.Store.Clear()
			slog.Info("Cleared media cache", "entries", before.Count, "bytes", before.TotalSize)
			return
		}
		for _, locator := range args {
			a.Store.Remove(locator)
		}
		slog.Info("Removed cached media", "count", len(args))
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
