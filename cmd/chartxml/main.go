// Command chartxml parses chart XML documents offline.
//
// Usage:
//
//	chartxml parse data/mock/hume-reservoir.xml --pretty
//	chartxml validate data/mock/*.xml
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/couchcryptid/water-chart-etl/internal/chartparser"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/couchcryptid/water-chart-etl/internal/observability"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel  string
	chunkSize int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "chartxml",
		Short:        "Parse and check daily chart XML documents",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().IntVar(&opts.chunkSize, "chunk-size", chartparser.DefaultChunkSize, "Bytes fed to the parser per chunk")

	rootCmd.AddCommand(newParseCmd(opts), newValidateCmd(opts))
	return rootCmd
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return observability.NewWriterLogger(cmd.ErrOrStderr(), o.logLevel, "text")
}

// parseReader feeds r to a chart parser chunkSize bytes at a time.
func parseReader(r io.Reader, place domain.Place, chunkSize int, logger *slog.Logger) (domain.Chart, chartparser.Stats, error) {
	if chunkSize <= 0 {
		return domain.Chart{}, chartparser.Stats{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	p := chartparser.New(place, chartparser.WithLogger(logger))
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := p.Feed(buf[:n]); ferr != nil {
				return domain.Chart{}, p.Stats(), ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.Stop()
			return domain.Chart{}, p.Stats(), fmt.Errorf("read chart: %w", err)
		}
	}
	chart, err := p.End()
	return chart, p.Stats(), err
}

func parseFile(path string, place domain.Place, chunkSize int, logger *slog.Logger) (domain.Chart, chartparser.Stats, error) {
	if path == "-" {
		return parseReader(os.Stdin, place, chunkSize, logger)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.Chart{}, chartparser.Stats{}, err
	}
	defer f.Close()
	return parseReader(f, place, chunkSize, logger)
}
