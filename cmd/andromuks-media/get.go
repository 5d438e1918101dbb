package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/app"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <locator>",
	Short: "Fetch media through the cache",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		locator := args[0]
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			errutil.ReportError(err, "Failed to get output flag")
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

		var bar *progressbar.ProgressBar
		a.Service.Progress = func(string) io.Writer {
			bar = progressbar.NewOptions64(
				-1,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("downloading"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(10),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionOnCompletion(func() {
					if _, err := fmt.Fprint(os.Stderr, "\n"); err != nil {
						errutil.LogMsg(err, "Failed to print newline to stderr")
					}
				}),
			)
			return bar
		}

		e, hit, err := a.Service.Load(cmd.Context(), locator)
		if bar != nil {
			errutil.LogMsg(bar.Finish(), "Failed to finish progress bar")
		}
		if err != nil {
			errutil.ReportError(err, "Fetch failed", "locator", locator)
			os.Exit(1)
		}
		if hit {
			if _, err := fmt.Fprintf(os.Stderr, "cache hit: %s\n", e.MediaKey); err != nil {
				errutil.LogMsg(err, "Failed to print to stderr")
			}
		}

		if output == "-" {
			return
		}
		if err := copyEntry(e.FilePath, output); err != nil {
			errutil.ReportError(err, "Failed to write media", "path", output)
			os.Exit(1)
		}
	},
}

// copyEntry copies a cached file to path, or to stdout when path is empty.
func copyEntry(src, path string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer errutil.Close(in, "Failed to close cached media")

	var out io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			errutil.LogMsg(file.Close(), "Failed to close output file")
		}()
		out = file
	}
	_, err = io.Copy(out, in)
	return err
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("output", "o", "", "Output file, - only warms the cache")
}
