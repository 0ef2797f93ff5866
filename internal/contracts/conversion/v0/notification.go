package v0

import (
	"refinery/internal/pkg/errors"
)

// Notification is published once per finished job.
type Notification struct {
	ModelID string `json:"modelId"`
	File    File   `json:"file"`
}

// File describes the stored model and its preview.
type File struct {
	OriginalKey  string `json:"originalKey"`
	Key          string `json:"key"`
	ImagePreview string `json:"imagePreview"`
	ETag         string `json:"eTag"`
	Size         int64  `json:"size"`
	Bucket       string `json:"bucket"`
}

// Validate requires every field to be populated.
func (n Notification) Validate() error {
	missing := func(field string) error {
		return errors.ValidationField(field, field+" is required")
	}
	switch {
	case n.ModelID == "":
		return missing("modelId")
	case n.File.OriginalKey == "":
		return missing("file.originalKey")
	case n.File.Key == "":
		return missing("file.key")
	case n.File.ImagePreview == "":
		return missing("file.imagePreview")
	case n.File.ETag == "":
		return missing("file.eTag")
	case n.File.Size <= 0:
		return missing("file.size")
	case n.File.Bucket == "":
		return missing("file.bucket")
	}
	return nil
}
