package processor

import (
	"context"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// Cleanup removes a job's source object. It must only run after both
// artifacts were confirmed.
type Cleanup struct {
	sp ports.StorageProvider
}

func NewCleanup(sp ports.StorageProvider) *Cleanup {
	return &Cleanup{sp: sp}
}

func (c *Cleanup) DeleteSource(ctx context.Context, job *Job, confirmed Confirmed) error {
	if confirmed.Model.Size <= 0 || confirmed.Image.Size <= 0 {
		return errors.New(errors.CodeFailedPrecond, "artifacts not confirmed; source kept").
			WithField("bucket", job.Bucket).
			WithField("key", job.SourceKey)
	}
	return c.sp.DeleteObject(ctx, job.Bucket, job.SourceKey)
}
