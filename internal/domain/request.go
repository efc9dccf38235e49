package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPlaceGone means the chart source no longer serves a chart for the place.
var ErrPlaceGone = errors.New("place has no chart")

// Place identifies a chart location by URN.
type Place struct {
	URN string `json:"urn"`
}

// NewPlace returns the place for urn, trimmed of surrounding space.
func NewPlace(urn string) (Place, error) {
	urn = strings.TrimSpace(urn)
	if urn == "" {
		return Place{}, errors.New("place urn is empty")
	}
	return Place{URN: urn}, nil
}

func (p Place) String() string {
	return p.URN
}

// LoadRequestBody is the JSON payload of a load request message.
type LoadRequestBody struct {
	URN   string `json:"urn"`
	Force bool   `json:"force,omitempty"`
}

// LoadRequest asks for the chart of a place to be (re)loaded.
type LoadRequest struct {
	Place     Place
	Force     bool
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error

	// Invalid is set when the message could not be parsed. Such requests are
	// committed in order without loading anything.
	Invalid error
}

// ParseLoadRequest builds a request from a message body. An empty or
// non-JSON body falls back to key as the place URN.
func ParseLoadRequest(key, value []byte) (LoadRequest, error) {
	var body LoadRequestBody
	trimmed := strings.TrimSpace(string(value))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(value, &body); err != nil {
			return LoadRequest{}, fmt.Errorf("parse load request: %w", err)
		}
	}
	if body.URN == "" {
		body.URN = string(key)
	}
	place, err := NewPlace(body.URN)
	if err != nil {
		return LoadRequest{}, fmt.Errorf("parse load request: %w", err)
	}
	return LoadRequest{Place: place, Force: body.Force}, nil
}
