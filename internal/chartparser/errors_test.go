package chartparser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/couchcryptid/water-chart-etl/internal/xmlstream"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unsupported interval", &UnsupportedIntervalError{Interval: "P2D"}, true},
		{"wrapped malformed", fmt.Errorf("parse: %w", &xmlstream.MalformedXMLError{Err: errors.New("bad")}), true},
		{"incomplete", &xmlstream.IncompleteDocumentError{}, true},
		{"unparsable date", &UnparsableDateError{Date: "x", Err: errors.New("bad")}, false},
		{"invalid value", ErrInvalidValue, false},
		{"stopped", xmlstream.ErrStopped, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestIsDaily(t *testing.T) {
	for _, in := range []string{"P1D", "p1d", " 1 ", "1"} {
		assert.True(t, isDaily(in), in)
	}
	for _, in := range []string{"P2D", "PT1H", "", "2", "daily"} {
		assert.False(t, isDaily(in), in)
	}
}

func TestReadValue(t *testing.T) {
	mk := func(number, quality string) *xmlstream.Node {
		p := xmlstream.New()
		var got *xmlstream.Node
		p.OnComplete("value", func(node, _ *xmlstream.Node) error {
			got = node
			return nil
		})
		doc := "<value><number>" + number + "</number>"
		if quality != "" {
			doc += "<quality>" + quality + "</quality>"
		}
		doc += "</value>"
		_ = p.Feed([]byte(doc))
		_ = p.End()
		return got
	}

	v, err := readValue(mk(" 12.5 ", ""))
	assert.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, err = readValue(mk("-3", "good"))
	assert.NoError(t, err)
	assert.Equal(t, -3.0, v)

	for _, tc := range []struct{ number, quality string }{
		{"", ""},
		{"abc", ""},
		{"Inf", ""},
		{"1", "MISSING"},
		{"1", "invalid"},
	} {
		_, err := readValue(mk(tc.number, tc.quality))
		assert.ErrorIs(t, err, ErrInvalidValue, "%q/%q", tc.number, tc.quality)
	}
}
