package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"refinery/internal/pkg/errors"
)

// GetObject streams an object as stored, including its content encoding,
// so a gzipped GLB reaches browsers as model/gltf-binary.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) error {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	if bucket == "" || key == "" {
		return errors.Validation("bucket and key are required")
	}

	rc, info, err := h.sp.GetObject(r.Context(), bucket, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if info.ETag != "" {
		etag := `"` + info.ETag + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return nil
		}
	}
	ct := info.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if info.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", info.ContentEncoding)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; all that is left is to log.
		h.log.FromContext(r.Context()).Warn("object stream interrupted", "bucket", bucket, "key", key, "error", err.Error())
	}
	return nil
}
