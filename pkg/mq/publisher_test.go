package mq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelineboard/pkg/trace"
)

func TestNewPublishing(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "trace-42")

	msg, err := newPublishing(ctx, "timeline.status_changed", map[string]any{"project_id": 9})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
	assert.Equal(t, "timeline.status_changed", msg.Type)
	assert.Equal(t, AppID, msg.AppId)
	assert.NotEmpty(t, msg.MessageId)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "trace-42", msg.Headers[trace.HeaderName])

	var body map[string]int
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, 9, body["project_id"])
}

func TestNewPublishing_NoTrace(t *testing.T) {
	msg, err := newPublishing(context.Background(), "timeline.details_deleted", struct{}{})
	require.NoError(t, err)
	assert.NotContains(t, msg.Headers, trace.HeaderName)
}

func TestNewPublishing_Unmarshalable(t *testing.T) {
	_, err := newPublishing(context.Background(), "timeline.status_changed", make(chan int))
	assert.ErrorContains(t, err, "timeline.status_changed")
}
