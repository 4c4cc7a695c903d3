package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	due := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		code     int
		data     any
		wantBody string
	}{
		{"status object", http.StatusOK, map[string]string{"status": "ok"}, `{"status":"ok"}`},
		{"unread counter", http.StatusOK, map[string]int{"unread": 3}, `{"unread":3}`},
		{"created with nested time", http.StatusCreated,
			struct {
				ID  int64     `json:"id"`
				Due time.Time `json:"due_date"`
			}{ID: 7, Due: due},
			`{"id":7,"due_date":"2026-03-01T09:30:00Z"}`},
		{"nil slice", http.StatusOK, []int64(nil), `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			JSON(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.code, tt.data)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestError(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict} {
		w := httptest.NewRecorder()

		Error(w, httptest.NewRequest(http.MethodPost, "/api/tasks", nil), code, http.StatusText(code))

		assert.Equal(t, code, w.Code)
		var got map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, map[string]string{"error": http.StatusText(code)}, got)
	}
}

func TestDecode(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantEmpty bool
		want      string
	}{
		{name: "valid", body: `{"title":"draft"}`, want: "draft"},
		{name: "empty body", body: "", wantErr: true, wantEmpty: true},
		{name: "unknown field", body: `{"title":"x","extra":1}`, wantErr: true},
		{name: "trailing data", body: `{"title":"x"}{"title":"y"}`, wantErr: true},
		{name: "malformed", body: `{"title":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var got payload
			err := Decode(w, r, &got)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantEmpty, err == ErrEmptyBody)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Title)
		})
	}
}
