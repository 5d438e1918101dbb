package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
	"github.com/spf13/cobra"
)

var netwatchCmd = &cobra.Command{
	Use:   "netwatch",
	Short: "Print network transitions as they are detected",
	Run: func(cmd *cobra.Command, args []string) {
		interval, err := cmd.Flags().GetDuration("interval")
		if err != nil {
			errutil.ReportError(err, "Failed to get interval flag")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := &transitionPrinter{w: os.Stdout}
		m := netmon.NewMonitor(netmon.NewInterfaceSource(interval), p)
		p.state = m.State
		if err := m.Start(ctx); err != nil {
			errutil.ReportError(err, "Failed to start network monitor")
			os.Exit(1)
		}
		defer m.Stop()

		<-ctx.Done()
	},
}

// transitionPrinter writes one JSON line per transition.
type transitionPrinter struct {
	w     io.Writer
	state func() netmon.State
}

type transitionLine struct {
	Event string       `json:"event"`
	From  string       `json:"from,omitempty"`
	To    string       `json:"to,omitempty"`
	State netmon.State `json:"state"`
}

func (p *transitionPrinter) OnNetworkAvailable(t netmon.Type) {
	p.print(transitionLine{Event: "available", To: t.String()})
}

func (p *transitionPrinter) OnNetworkLost() {
	p.print(transitionLine{Event: "lost"})
}

func (p *transitionPrinter) OnNetworkTypeChanged(from, to netmon.Type) {
	p.print(transitionLine{Event: "type_changed", From: from.String(), To: to.String()})
}

func (p *transitionPrinter) print(line transitionLine) {
	if p.state != nil {
		line.State = p.state()
	}
	b, err := json.Marshal(line)
	if err != nil {
		errutil.ReportError(err, "Failed to encode transition")
		return
	}
	if _, err := fmt.Fprintln(p.w, string(b)); err != nil {
		errutil.LogMsg(err, "Failed to print transition")
	}
}

func init() {
	rootCmd.AddCommand(netwatchCmd)
	netwatchCmd.Flags().Duration("interval", netmon.DefaultPollInterval, "Interface rescan interval")
}
