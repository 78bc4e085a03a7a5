package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsEmissionOrder(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, rec.Publish(ctx, ProgressEvent{
			RequestID: "req-1",
			StepIndex: i,
			Status:    "completed",
		}))
	}
	require.NoError(t, rec.Publish(ctx, ProgressEvent{RequestID: "req-2", StepIndex: 0, Status: "failed"}))

	evs := rec.ForRequest("req-1")
	require.Len(t, evs, 4)
	for i, ev := range evs {
		assert.Equal(t, i, ev.StepIndex)
	}

	assert.Len(t, rec.ForRequest("req-2"), 1)
	assert.Empty(t, rec.ForRequest("req-3"))
	assert.Len(t, rec.Events(), 5)
}

func TestRecorderStampsTimestamps(t *testing.T) {
	rec := NewRecorder()
	require.NoError(t, rec.Publish(context.Background(), ProgressEvent{RequestID: "req-1"}))

	evs := rec.ForRequest("req-1")
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Timestamp.IsZero())
}
