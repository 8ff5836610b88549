package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hivemind/internal/monitoring"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]float64{"frequency": 250})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"frequency":250}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	monitoring.SetLogger(func(string, ...interface{}) {})
	defer monitoring.SetLogger(nil)

	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad window") }, http.StatusBadRequest, "bad window"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no records yet") }, http.StatusNotFound, "no records yet"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "disk full") }, http.StatusInternalServerError, "disk full"},
		{"empty message", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusTeapot, "") }, http.StatusTeapot, "I'm a teapot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decodeError(t, rec).Error)
		})
	}
}

func TestInternalServerError_Logs(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	defer monitoring.SetLogger(nil)

	InternalServerError(httptest.NewRecorder(), "query failed")
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "error:")
}

func TestWriteJSON_EncodeFailureIsLogged(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	defer monitoring.SetLogger(nil)

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, math.Inf(1))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "failed to encode")
}
