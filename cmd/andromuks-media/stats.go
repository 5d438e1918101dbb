package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/app"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache statistics",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			errutil.ReportError(err, "Failed to get json flag")
			os.Exit(1)
		}

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

		if err := printStats(os.Stdout, a.Store.Stats(), cfg.MaxCacheSize, asJSON); err != nil {
			errutil.ReportError(err, "Failed to print stats")
		}
	},
}

func printStats(w io.Writer, st mediacache.Stats, maxSize int64, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	limit := "unlimited"
	if maxSize > 0 {
		limit = humanize.IBytes(uint64(maxSize))
	}
	_, err := fmt.Fprintf(w, "entries:      %d (%d visible)\nsize:         %s of %s (%.1f%%)\navg accesses: %.2f\n",
		st.Count, st.VisibleCount,
		humanize.IBytes(uint64(st.TotalSize)), limit, st.UtilizationPercent,
		st.AvgAccessCount)
	return err
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Print JSON")
}
