package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	v0 "refinery/internal/contracts/conversion/v0"
	"refinery/internal/httpkit"
	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
	"refinery/internal/worker/processor"
)

// UploadResponse is the body of a queued upload.
type UploadResponse struct {
	ModelID string `json:"modelId"`
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	ETag    string `json:"eTag,omitempty"`
	Size    int64  `json:"size"`
	Queue   string `json:"queue"`
}

// PostUpload stores a model in the upload bucket and enqueues the same
// object-created event the bucket notification would produce. Form fields:
// file and model (the id echoed in the completion message).
func (h *Handler) PostUpload(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	up, err := h.readUpload(w, r)
	if err != nil {
		return err
	}
	modelID := strings.TrimSpace(r.FormValue("model"))
	if modelID == "" {
		return errors.ValidationField("model", "model is required")
	}
	format, err := formatOf(r.FormValue("format"), up.name)
	if err != nil {
		return err
	}

	name := processor.SanitizeFilename(up.name)
	if !strings.EqualFold(strings.TrimPrefix(path.Ext(name), "."), format.String()) {
		name += "." + format.String()
	}
	key := "uploads/" + uuid.NewString() + "/" + name

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		Bucket:      h.uploadBucket,
		ObjectKey:   key,
		ContentType: format.ContentType(),
		Metadata:    map[string]string{processor.ModelMetadataKey: modelID},
		Reader:      bytes.NewReader(up.data),
		Size:        int64(len(up.data)),
	})
	if err != nil {
		return err
	}

	if err := h.enqueue(r, h.uploadBucket, key); err != nil {
		return err
	}

	h.log.FromContext(ctx).Info("upload queued", "bucket", h.uploadBucket, "key", key, "model_id", modelID)
	httpkit.WriteJSON(w, http.StatusAccepted, UploadResponse{
		ModelID: modelID,
		Bucket:  h.uploadBucket,
		Key:     key,
		ETag:    out.ETag,
		Size:    out.Size,
		Queue:   h.triggerQueue,
	})
	return nil
}

// JobRequest asks for an already stored object to be converted.
type JobRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// PostJob re-enqueues an existing object. The object must exist and carry
// model metadata, or the worker would reject it anyway.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req JobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpapi.jobs", "invalid json body")
	}
	if req.Bucket == "" {
		req.Bucket = h.uploadBucket
	}
	if strings.TrimSpace(req.Key) == "" {
		return errors.ValidationField("key", "key is required")
	}
	if _, err := processor.DeriveKeys(req.Key); err != nil {
		return err
	}

	info, err := h.sp.HeadObject(ctx, req.Bucket, req.Key)
	if err != nil {
		return err
	}
	modelID, ok := ports.MetadataValue(info.Metadata, processor.ModelMetadataKey)
	if !ok || modelID == "" {
		return errors.ValidationField("metadata.model", "object has no model metadata")
	}

	if err := h.enqueue(r, req.Bucket, req.Key); err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusAccepted, UploadResponse{
		ModelID: modelID,
		Bucket:  req.Bucket,
		Key:     req.Key,
		ETag:    info.ETag,
		Size:    info.Size,
		Queue:   h.triggerQueue,
	})
	return nil
}

func (h *Handler) enqueue(r *http.Request, bucket, key string) error {
	body, err := json.Marshal(v0.NewObjectCreatedEvent(bucket, key))
	if err != nil {
		return errors.Wrap(err, "httpapi.enqueue", "encode event")
	}
	return h.trigger.Publish(r.Context(), body)
}
