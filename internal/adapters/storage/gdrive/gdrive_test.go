package gdrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"refinery/internal/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return NewClient(svc, "root-folder")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestHeadObject(t *testing.T) {
	var queries []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		queries = append(queries, q)
		if strings.Contains(q, folderMime) {
			writeJSON(w, map[string]any{"files": []map[string]any{{"id": "folder-public"}}})
			return
		}
		writeJSON(w, map[string]any{"files": []map[string]any{{
			"id":            "file-1",
			"name":          "images/dragon.webp",
			"size":          "42",
			"md5Checksum":   "abc123",
			"mimeType":      "image/webp",
			"modifiedTime":  "2024-01-02T03:04:05Z",
			"appProperties": map[string]string{"model": "m-1", encodingProp: "gzip"},
		}}})
	})

	info, err := c.HeadObject(context.Background(), "public", "images/dragon.webp")
	require.NoError(t, err)
	assert.Equal(t, "abc123", info.ETag)
	assert.Equal(t, int64(42), info.Size)
	assert.Equal(t, "image/webp", info.ContentType)
	assert.Equal(t, "gzip", info.ContentEncoding)
	assert.Equal(t, map[string]string{"model": "m-1"}, info.Metadata)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), info.LastModified)

	require.Len(t, queries, 2)
	assert.Contains(t, queries[0], "'root-folder' in parents")
	assert.Contains(t, queries[1], "'folder-public' in parents")

	// the folder id is cached
	_, err = c.HeadObject(context.Background(), "public", "images/dragon.webp")
	require.NoError(t, err)
	assert.Len(t, queries, 3)
}

func TestHeadMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"files": []any{}})
	})

	_, err := c.HeadObject(context.Background(), "public", "images/none.webp")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestListFailureIsStorageError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.HeadObject(context.Background(), "", "models/a.glb")
	assert.True(t, errors.IsCode(err, errors.CodeStorage), "got %v", err)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
}
