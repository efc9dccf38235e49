package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/spf13/cobra"
)

type parseOptions struct {
	*rootOptions
	place      string
	outputPath string
	pretty     bool
	stats      bool
}

func newParseCmd(root *rootOptions) *cobra.Command {
	opts := &parseOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "parse [input.xml]",
		Short: "Parse a chart document and print the chart as JSON",
		Long: `parse reads a chart XML document ("-" for stdin), reconstructs its
daily series and prints the resulting chart record as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.place, "place", "", "Expected place URN (default: the document's place)")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Pretty-print JSON output")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print parse statistics to stderr")
	return cmd
}

func runParse(cmd *cobra.Command, opts *parseOptions, path string) error {
	chart, stats, err := parseFile(path, domain.Place{URN: opts.place}, opts.chunkSize, opts.logger(cmd))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var data []byte
	if opts.pretty {
		data, err = json.MarshalIndent(chart, "", "  ")
	} else {
		data, err = json.Marshal(chart)
	}
	if err != nil {
		return fmt.Errorf("serialize chart: %w", err)
	}
	data = append(data, '\n')

	if opts.stats {
		fmt.Fprintf(cmd.ErrOrStderr(), "bytes=%d accepted=%d invalid=%d unparsable_dates=%d series_skipped=%d runs=%d\n",
			stats.BytesFed, stats.ValuesAccepted, stats.ValuesInvalid, stats.DatesUnparsable, stats.SeriesSkipped, stats.RunsCommitted)
	}

	if opts.outputPath != "" {
		if err := os.WriteFile(opts.outputPath, data, 0o600); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
