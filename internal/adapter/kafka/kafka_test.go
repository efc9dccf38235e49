package kafka

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRequest(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("urn:key"),
		Value:     []byte(`{"urn":"urn:a","force":true}`),
		Topic:     "chart-load-requests",
		Partition: 2,
		Offset:    42,
		Time:      now,
	}

	req := mapMessageToRequest(msg)

	require.NoError(t, req.Invalid)
	assert.Equal(t, "urn:a", req.Place.URN)
	assert.True(t, req.Force)
	assert.Equal(t, "chart-load-requests", req.Topic)
	assert.Equal(t, 2, req.Partition)
	assert.Equal(t, int64(42), req.Offset)
	assert.Equal(t, now, req.Timestamp)
	assert.Nil(t, req.Commit, "commit is attached by the reader")
}

func TestMapMessageToRequest_KeyOnly(t *testing.T) {
	req := mapMessageToRequest(kafkago.Message{Key: []byte("urn:b"), Offset: 7})

	require.NoError(t, req.Invalid)
	assert.Equal(t, "urn:b", req.Place.URN)
	assert.False(t, req.Force)
	assert.Equal(t, int64(7), req.Offset)
}

func TestMapMessageToRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		msg  kafkago.Message
	}{
		{name: "broken json", msg: kafkago.Message{Key: []byte("urn:a"), Value: []byte(`{"urn":`)}},
		{name: "no place", msg: kafkago.Message{Value: []byte(`{"force":true}`)}},
		{name: "empty", msg: kafkago.Message{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.Topic = "chart-load-requests"
			tt.msg.Offset = 9

			req := mapMessageToRequest(tt.msg)

			require.Error(t, req.Invalid)
			assert.Equal(t, "chart-load-requests", req.Topic)
			assert.Equal(t, int64(9), req.Offset)
		})
	}
}

func TestSerializeToMessage(t *testing.T) {
	loadedAt := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	chart := domain.Chart{
		PlaceURN: "urn:a",
		YMax:     4,
		Series: []domain.Series{{
			Year: 2011,
			Datasets: []domain.Dataset{{
				StartDayIndex: 3,
				Values:        []domain.Value{{Value: 2, Percentage: 0.5}, {Value: 4, Percentage: 1}},
			}},
		}},
		LoadedAt: loadedAt,
	}

	msg, err := serializeToMessage(chart)
	require.NoError(t, err)

	assert.Equal(t, []byte("urn:a"), msg.Key)
	assert.JSONEq(t, `{
		"place_urn": "urn:a",
		"year_max": 4,
		"series": [{"year": 2011, "datasets": [{"start_day_index": 3, "values": [
			{"value": 2, "percentage": 0.5},
			{"value": 4, "percentage": 1}
		]}]}],
		"loaded_at": "2024-04-26T15:10:00Z"
	}`, string(msg.Value))

	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "place_urn", msg.Headers[0].Key)
	assert.Equal(t, []byte("urn:a"), msg.Headers[0].Value)
	assert.Equal(t, "loaded_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(loadedAt.Format(time.RFC3339)), msg.Headers[1].Value)
	assert.Equal(t, "series", msg.Headers[2].Key)
	assert.Equal(t, []byte("1"), msg.Headers[2].Value)

	var roundtrip domain.Chart
	require.NoError(t, json.Unmarshal(msg.Value, &roundtrip))
	assert.Equal(t, chart, roundtrip)
}

func TestSerializeToMessage_NotFinite(t *testing.T) {
	_, err := serializeToMessage(domain.Chart{PlaceURN: "urn:a", YMax: math.Inf(1)})
	assert.ErrorContains(t, err, "serialize chart urn:a")
}
