// Package v0 holds the wire contracts of the conversion worker: the bucket
// notification that triggers a job, and the completion message it publishes.
package v0

import (
	"encoding/json"
	"net/url"
	"strings"

	"refinery/internal/pkg/errors"
)

// Event is an S3 bucket notification. MinIO emits the same record shape.
type Event struct {
	Records []Record `json:"Records"`
}

// Record is one bucket notification entry.
type Record struct {
	EventName   string   `json:"eventName,omitempty"`
	EventSource string   `json:"eventSource,omitempty"`
	S3          S3Entity `json:"s3"`
}

// S3Entity names the bucket and object of a record.
type S3Entity struct {
	Bucket Bucket `json:"bucket"`
	Object Object `json:"object"`
}

type Bucket struct {
	Name string `json:"name"`
}

// Object keys arrive URL-encoded.
type Object struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size,omitempty"`
	ETag         string            `json:"eTag,omitempty"`
	UserMetadata map[string]string `json:"userMetadata,omitempty"`
}

// ObjectRef is a decoded reference to an uploaded object.
type ObjectRef struct {
	Bucket string
	Key    string
	// Metadata is whatever user metadata the notification carried; the
	// worker still reads the object's own metadata.
	Metadata map[string]string
}

// minioAccessEntry is one element of MinIO's "access" event format.
type minioAccessEntry struct {
	Event []Record `json:"Event"`
}

// NewObjectCreatedEvent builds the single-record event the API enqueues
// after a direct upload.
func NewObjectCreatedEvent(bucket, key string) Event {
	return Event{Records: []Record{{
		EventName:   "ObjectCreated:Put",
		EventSource: "refinery:api",
		S3: S3Entity{
			Bucket: Bucket{Name: bucket},
			Object: Object{Key: url.QueryEscape(key)},
		},
	}}}
}

// ParseEvent decodes a notification body into object references. Records
// for anything other than object creation are skipped, so a body holding
// only a test event or removal yields no references and no error.
func ParseEvent(body []byte) ([]ObjectRef, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errors.Validation("empty event body")
	}

	var records []Record
	if strings.HasPrefix(trimmed, "[") {
		var entries []minioAccessEntry
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, errors.Wrap(err, "contracts.parse_event", "decode access-format event")
		}
		for _, e := range entries {
			records = append(records, e.Event...)
		}
	} else {
		var ev Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			return nil, errors.Wrap(err, "contracts.parse_event", "decode event")
		}
		records = ev.Records
	}

	refs := make([]ObjectRef, 0, len(records))
	for i, r := range records {
		if r.EventName != "" && !strings.Contains(r.EventName, "ObjectCreated") {
			continue
		}
		if r.S3.Bucket.Name == "" || r.S3.Object.Key == "" {
			return nil, errors.Validationf("record %d has no bucket or key", i)
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, errors.ValidationField("key", "object key is not URL-encoded: "+r.S3.Object.Key)
		}
		refs = append(refs, ObjectRef{
			Bucket:   r.S3.Bucket.Name,
			Key:      key,
			Metadata: r.S3.Object.UserMetadata,
		})
	}
	return refs, nil
}
