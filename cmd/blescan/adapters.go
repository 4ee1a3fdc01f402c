package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blescan/internal/adapter"
	"github.com/srg/blescan/internal/platform"
)

type adaptersOptions struct {
	format string
}

func newAdaptersCmd() *cobra.Command {
	opts := &adaptersOptions{}
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List Bluetooth adapters",
		Long: `List the Bluetooth adapters exposed by the selected backend, with their
radio state and the paired peripherals each of them reports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdapters(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

type adapterReport struct {
	platform.Identity
	Enabled bool `json:"enabled"`
	Paired  int  `json:"paired"`
}

func runAdapters(cmd *cobra.Command, opts *adaptersOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	p, release, err := openPlatform(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	adapters, err := adapter.Enumerate(p, adapter.Options{Logger: logger, EventBuffer: cfg.EventBuffer})
	if err != nil {
		return err
	}
	defer func() {
		for _, a := range adapters {
			a.Close()
		}
	}()

	reports := make([]adapterReport, 0, len(adapters))
	for _, a := range adapters {
		enabled, err := a.BluetoothEnabled()
		if err != nil {
			logger.WithError(err).WithField("adapter", a.Identity().ID).Warn("Failed to query bluetooth state")
		}
		paired, err := a.GetPairedPeripherals()
		if err != nil {
			logger.WithError(err).WithField("adapter", a.Identity().ID).Warn("Failed to list paired peripherals")
		}
		reports = append(reports, adapterReport{Identity: a.Identity(), Enabled: enabled, Paired: len(paired)})
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(reports)
	}
	return displayAdaptersTable(out, reports)
}

func displayAdaptersTable(out io.Writer, reports []adapterReport) error {
	if len(reports) == 0 {
		fmt.Fprintln(out, "No adapters found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tBLUETOOTH\tPAIRED")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, r := range reports {
		address := r.Address
		if address == "" {
			address = "-"
		}
		state := "off"
		if r.Enabled {
			state = "on"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Name, address, state, r.Paired)
	}
	return w.Flush()
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
}
