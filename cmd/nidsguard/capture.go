package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/nidsguard/pkg/flows"
	"github.com/hed1ad/nidsguard/pkg/io/pcap"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

// captureResult is a scored connection with its endpoints.
type captureResult struct {
	Flow  string    `json:"flow"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	*scorer.Prediction
}

func newCaptureCmd(a *app) *cobra.Command {
	var (
		file, iface string
		filter      string
		asJSON      bool
		alertsOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Score connections from a pcap file or a live interface",
		Long: `Capture assembles packets into connections, derives NSL-KDD style records
(basic and traffic features; content features are zero) and scores each
connection when it completes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == (iface == "") {
				return errors.New("exactly one of --file or --iface is required")
			}
			if cmd.Flags().Changed("filter") {
				a.cfg.Capture.Filter = filter
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			_, s, err := a.loadScorer()
			if err != nil {
				return err
			}

			c := a.cfg.Capture
			opts := []flows.Option{flows.WithIdleTimeout(c.IdleTimeout)}
			var r *pcap.Reader
			if file != "" {
				r, err = pcap.NewFileReader(file, opts...)
			} else {
				r, err = pcap.NewLiveReader(iface, int32(c.Snaplen), c.Promiscuous, time.Second, opts...)
			}
			if err != nil {
				return err
			}
			defer r.Close()

			if c.Filter != "" {
				if err := r.SetFilter(c.Filter); err != nil {
					return fmt.Errorf("set filter %q: %w", c.Filter, err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conns, err := r.Flows(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			if !asJSON {
				fmt.Fprintln(tw, "FLOW\tSERVICE\tFLAG\tPREDICTION\tTHREAT\tANOMALY")
			}

			var scored, alerts int
			for f := range conns {
				p, err := s.Score(&f.Record)
				if err != nil {
					a.logger.Warn("scoring failed", slog.String("flow", f.Key.String()), slog.Any("error", err))
					continue
				}
				scored++
				if p.ThreatLevel != scorer.ThreatLow {
					alerts++
				} else if alertsOnly {
					continue
				}

				if asJSON {
					if err := enc.Encode(captureResult{Flow: f.Key.String(), Start: f.Start, End: f.End, Prediction: p}); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.4f\n",
					f.Key, f.Record.Service, f.Record.Flag, p.Prediction, p.ThreatLevel, p.AnomalyScore)
				if r.IsLive() {
					tw.Flush()
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			a.logger.Info("capture finished", slog.Int("connections", scored), slog.Int("alerts", alerts))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "pcap file to read")
	f.StringVarP(&iface, "iface", "i", "", "network interface to capture on")
	f.StringVar(&filter, "filter", "", "BPF filter (default from config)")
	f.BoolVar(&asJSON, "json", false, "print one JSON object per connection")
	f.BoolVar(&alertsOnly, "alerts", false, "only print connections above low threat")
	return cmd
}
