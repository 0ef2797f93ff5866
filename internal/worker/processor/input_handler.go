package processor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// ModelMetadataKey is the user metadata field carrying the owning model id.
const ModelMetadataKey = "model"

// InputHandler downloads the source object and resolves its model id.
type InputHandler struct {
	sp       ports.StorageProvider
	maxBytes int64
}

func NewInputHandler(sp ports.StorageProvider, maxBytes int64) *InputHandler {
	return &InputHandler{sp: sp, maxBytes: maxBytes}
}

// Fetch reads the whole source object and sets job.ModelID.
func (h *InputHandler) Fetch(ctx context.Context, job *Job) ([]byte, error) {
	rc, info, err := h.sp.GetObject(ctx, job.Bucket, job.SourceKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	modelID, ok := ports.MetadataValue(info.Metadata, ModelMetadataKey)
	if !ok || strings.TrimSpace(modelID) == "" {
		modelID, ok = ports.MetadataValue(job.EventMetadata, ModelMetadataKey)
	}
	modelID = strings.TrimSpace(modelID)
	if !ok || modelID == "" {
		return nil, errors.ValidationField("metadata.model", "source object has no model metadata").
			WithField("bucket", job.Bucket).
			WithField("key", job.SourceKey)
	}
	job.ModelID = modelID

	r := io.Reader(rc)
	if h.maxBytes > 0 {
		r = io.LimitReader(rc, h.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Storage(err, "processor.fetch", job.Bucket, job.SourceKey)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return nil, errors.ValidationField("size", fmt.Sprintf("source object exceeds %d bytes", h.maxBytes))
	}
	return data, nil
}
