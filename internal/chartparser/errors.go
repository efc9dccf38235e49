package chartparser

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/water-chart-etl/internal/xmlstream"
)

// ErrInvalidValue marks a value the source reported as missing or bad, or
// whose number cannot be read. The day is left out of the chart.
var ErrInvalidValue = errors.New("invalid value")

// UnsupportedIntervalError reports a series declaring an interval other than
// one day. It aborts the whole chart.
type UnsupportedIntervalError struct {
	Interval string
}

func (e *UnsupportedIntervalError) Error() string {
	return fmt.Sprintf("unsupported series interval %q: only one-day intervals are supported", e.Interval)
}

// UnparsableDateError reports a value whose date cannot be read. The rest of
// its series is skipped.
type UnparsableDateError struct {
	Date string
	Err  error
}

func (e *UnparsableDateError) Error() string {
	return fmt.Sprintf("unparsable date %q: %v", e.Date, e.Err)
}

func (e *UnparsableDateError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err means the document itself cannot produce a
// chart, so retrying the same bytes would fail again.
func IsFatal(err error) bool {
	var interval *UnsupportedIntervalError
	var malformed *xmlstream.MalformedXMLError
	var incomplete *xmlstream.IncompleteDocumentError
	return errors.As(err, &interval) || errors.As(err, &malformed) || errors.As(err, &incomplete)
}
