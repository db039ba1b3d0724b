package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("encodes body", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())
	})

	t.Run("nil body", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]int{"rules": 7}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"rules":7}}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter) error
		status int
		code   string
	}{
		{
			name: "bad request with details",
			write: func(w http.ResponseWriter) error {
				return WriteBadRequest(w, "invalid body", map[string]interface{}{"field": "plan_code"})
			},
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "internal error default message",
			write:  func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
		{
			name: "unprocessable",
			write: func(w http.ResponseWriter) error {
				return WriteError(w, http.StatusUnprocessableEntity, "transition not allowed", nil)
			},
			status: http.StatusUnprocessableEntity,
			code:   "unprocessable_entity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := map[int]string{
		http.StatusBadRequest:          "bad_request",
		http.StatusUnauthorized:        "unauthorized",
		http.StatusForbidden:           "forbidden",
		http.StatusNotFound:            "not_found",
		http.StatusConflict:            "conflict",
		http.StatusUnprocessableEntity: "unprocessable_entity",
		http.StatusServiceUnavailable:  "service_unavailable",
		http.StatusTeapot:              "internal_error",
	}
	for status, code := range tests {
		assert.Equal(t, code, ErrorCode(status), status)
	}
}
