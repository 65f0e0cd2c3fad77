package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice.smith@example.com", "al***@example.com"},
		{"al@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"a@b@c.com", "***@***"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactEmail(tt.in))
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogRedactsRecipientFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, true)

	l.Log(INFO, "tracked", "recipient", "alice@x.com", "note", "sent to bob@y.org", "count", 3)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "tracked", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "al***@x.com", entry["recipient"])
	assert.Equal(t, "sent to bo***@y.org", entry["note"])
	assert.Equal(t, float64(3), entry["count"])
}

func TestLogKeepsCountsUnderPIIKeys(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, true)

	l.Log(INFO, "path cleanup completed", "recipients", 12, "emails", int64(40), "recipient_list", "none", "dry_run", false)

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(12), entry["recipients"])
	assert.Equal(t, float64(40), entry["emails"])
	assert.Equal(t, "none", entry["recipient_list"])
	assert.Equal(t, false, entry["dry_run"])
}

func TestLogWithoutRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, false)

	l.Log(WARN, "raw", "recipient", "alice@x.com")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "alice@x.com", entry["recipient"])
	assert.Equal(t, "warn", entry["level"])
}

func TestLogErrorField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, true)

	l.Log(ERROR, "failed", "error", errors.New("insert for carol@z.io failed"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "insert for ca***@z.io failed", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN, true)

	l.Log(INFO, "dropped")
	assert.Zero(t, buf.Len())

	l.Log(ERROR, "kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
