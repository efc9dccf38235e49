package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

// errValidation is returned when any document fails a check. Details have
// already been printed.
var errValidation = errors.New("validation failed")

// phase tracks pass/fail for one document.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func (p *phase) report(w io.Writer) {
	if p.passed() {
		fmt.Fprintf(w, "PASS %s\n", p.name)
		return
	}
	fmt.Fprintf(w, "FAIL %s\n", p.name)
	for _, e := range p.errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

type validateOptions struct {
	*rootOptions
	place string
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "validate [input.xml...]",
		Short: "Check chart documents parse into valid charts",
		Long: `validate parses each document and checks the chart invariants: series
ordered by year, non-overlapping datasets inside the 366-day grid, 29 February
filled from 28 February in non-leap years, and percentages consistent with
year_max. Each document is parsed a second time one byte at a time and the
two charts must match.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.place, "place", "", "Expected place URN (default: each document's place)")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *validateOptions, paths []string) error {
	logger := opts.logger(cmd)
	failed := 0
	for _, path := range paths {
		p := validateFile(path, domain.Place{URN: opts.place}, opts.chunkSize, logger)
		p.report(cmd.OutOrStdout())
		if !p.passed() {
			failed++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d/%d documents passed\n", len(paths)-failed, len(paths))
	if failed > 0 {
		return errValidation
	}
	return nil
}

func validateFile(path string, place domain.Place, chunkSize int, logger *slog.Logger) *phase {
	p := &phase{name: path}
	if path == "-" {
		p.errorf("validate reads each document twice and cannot use stdin")
		return p
	}

	chart, stats, err := parseFile(path, place, chunkSize, logger)
	if err != nil {
		p.errorf("parse: %v", err)
		return p
	}
	if err := chart.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			p.errorf("%s", line)
		}
	}
	if len(chart.Series) == 0 {
		p.errorf("no series with valid values (%d values read, %d invalid)", stats.ValuesAccepted+stats.ValuesInvalid, stats.ValuesInvalid)
	}

	// Byte-at-a-time feeding must not change the result.
	bytewise, _, err := parseFile(path, place, 1, logger)
	if err != nil {
		p.errorf("parse one byte at a time: %v", err)
		return p
	}
	if diff := cmp.Diff(chart, bytewise); diff != "" {
		p.errorf("chart depends on chunk size (-chunked +bytewise):\n%s", diff)
	}
	return p
}
