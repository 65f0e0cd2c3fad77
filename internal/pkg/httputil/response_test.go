package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"ok", func(w http.ResponseWriter) { OK(w, map[string]int{"n": 1}) }, 200, `{"n":1}`},
		{"created", func(w http.ResponseWriter) { Created(w, map[string]string{"id": "x"}) }, 201, `{"id":"x"}`},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "busy") }, 409, `{"error":"busy"}`},
		{"unprocessable", func(w http.ResponseWriter) { Unprocessable(w, "bad domain") }, 422, `{"error":"bad domain"}`},
		{"internal", func(w http.ResponseWriter) { InternalError(w, errors.New("pq: secret")) }, 500, `{"error":"internal server error"}`},
		{"with code", func(w http.ResponseWriter) {
			ErrorWithCode(w, 400, "validation_failed", "invalid", map[string]string{"tag": "max"})
		}, 400, `{"error":"invalid","code":"validation_failed","details":{"tag":"max"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestDecode(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.True(t, Decode(rec, req, &dst))
	assert.Equal(t, "a", dst.Name)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.False(t, Decode(rec, req, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	s, ok := NewSSE(rec)
	require.True(t, ok)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	require.NoError(t, s.Send("progress", map[string]int{"percent": 20}))
	s.Close()
	assert.ErrorIs(t, s.Send("complete", nil), ErrStreamClosed)

	body := rec.Body.String()
	assert.Equal(t, "event: progress\ndata: {\"percent\":20}\n\n", body)

	var payload map[string]int
	line := strings.TrimPrefix(strings.Split(body, "\n")[1], "data: ")
	require.NoError(t, json.Unmarshal([]byte(line), &payload))
	assert.Equal(t, 20, payload["percent"])
}
