package httpkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	h := CORS(CORSOptions{
		AllowedOrigins: []string{" http://localhost:5173 ", ""},
		ExposedHeaders: []string{"X-Request-ID"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "X-Request-ID, ETag, Content-Encoding, Content-Length", rec.Header().Get("Access-Control-Expose-Headers"))
		assert.Empty(t, rec.Header().Get("Access-Control-Max-Age"), "preflight-only header on a plain response")
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/convert", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET, HEAD, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
		assert.Empty(t, rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("plain options falls through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/convert", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
	})
}

func TestCORSWildcardAndDefaults(t *testing.T) {
	h := CORS(CORSOptions{AllowedOrigins: []string{"*"}, AllowCredentials: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodHead, "/objects/public/images/dragon.webp", nil)
	req.Header.Set("Origin", "https://viewer.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://viewer.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "ETag, Content-Encoding, Content-Length", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestWriteErr(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, http.StatusNotFound, "NOT_FOUND", "route not found", map[string]any{"path": "/x"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Equal(t, "/x", env.Error.Details["path"])
}

func TestWriteBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBytes(rec, http.StatusOK, "image/webp", []byte("RIFF"))

	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, "RIFF", rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Bucket string `json:"bucket"`
	}

	var ok body
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"bucket":"uploads"}`))
	require.NoError(t, DecodeJSON(req, &ok))
	assert.Equal(t, "uploads", ok.Bucket)

	var bad body
	req = httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"bucket":"uploads","extra":1}`))
	assert.Error(t, DecodeJSON(req, &bad))
}
