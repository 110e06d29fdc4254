package clickhouse

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/tracker"
)

func TestNewRow(t *testing.T) {
	at := time.Date(2026, 4, 9, 15, 30, 0, 0, time.UTC)
	cmd := tracker.NewCommand(tracker.KindEvent, "scroll_depth", tracker.Params{
		tracker.ParamVisitorID: "v_1",
		tracker.ParamSessionID: "s_1",
		tracker.ParamPageURL:   "https://example.com/blog/onboarding",
		"value":                75,
	}, at)

	row, err := NewRow(cmd)
	require.NoError(t, err)

	assert.NotEmpty(t, row.EventID)
	assert.Equal(t, "event", row.Kind)
	assert.Equal(t, "scroll_depth", row.Name)
	assert.Equal(t, "v_1", row.VisitorID)
	assert.Equal(t, "s_1", row.SessionID)
	assert.Equal(t, "https://example.com/blog/onboarding", row.PageURL)
	assert.Equal(t, at, row.Timestamp)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.EventData), &data))
	assert.Equal(t, float64(75), data["value"])
}

func TestNewRow_DistinctIDs(t *testing.T) {
	cmd := tracker.NewCommand(tracker.KindConfig, "G-1", nil, time.Now())
	a, err := NewRow(cmd)
	require.NoError(t, err)
	b, err := NewRow(cmd)
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, "{}", a.EventData)
}
