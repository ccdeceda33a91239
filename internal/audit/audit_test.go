package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEventWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(&buf)

	logger.RecordEvent(context.Background(), EventTransfer, 42, "1234567890", map[string]any{
		"reference": "TXN-1",
		"amount":    2000,
		"event":     "shadowed",
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, true, line["audit"])
	assert.Equal(t, EventTransfer, line["event"])
	assert.EqualValues(t, 42, line["actor"])
	assert.Equal(t, "1234567890", line["subject"])
	assert.Equal(t, "TXN-1", line["reference"])
	assert.EqualValues(t, 2000, line["amount"])
	assert.Equal(t, "shadowed", line["detail_event"])
	assert.Equal(t, EventTransfer, line["msg"])
}
