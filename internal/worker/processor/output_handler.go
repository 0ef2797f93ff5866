package processor

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"

	"refinery/internal/export"
	"refinery/internal/imaging"
	"refinery/internal/ports"
)

// Artifacts are the upload-ready outputs of one job.
type Artifacts struct {
	// GLB is already gzip-compressed.
	GLB  []byte
	WebP []byte
}

// Confirmed is what the head requests reported after upload.
type Confirmed struct {
	Model        ports.ObjectInfo
	Image        ports.ObjectInfo
	ImagePreview string
}

// OutputHandler stores a job's artifacts: the model next to its source,
// the preview in the public bucket.
type OutputHandler struct {
	sp           ports.StorageProvider
	publicBucket string
}

func NewOutputHandler(sp ports.StorageProvider, publicBucket string) *OutputHandler {
	return &OutputHandler{sp: sp, publicBucket: publicBucket}
}

// Upload puts both artifacts concurrently. Either failure fails the pair.
func (h *OutputHandler) Upload(ctx context.Context, job *Job, a Artifacts) error {
	md := map[string]string{ModelMetadataKey: job.ModelID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := h.sp.PutObject(gctx, ports.PutObjectInput{
			Bucket:          job.Bucket,
			ObjectKey:       job.Keys.Model,
			ContentType:     export.ContentType,
			ContentEncoding: "gzip",
			Metadata:        md,
			Reader:          bytes.NewReader(a.GLB),
			Size:            int64(len(a.GLB)),
		})
		return err
	})
	g.Go(func() error {
		_, err := h.sp.PutObject(gctx, ports.PutObjectInput{
			Bucket:      h.publicBucket,
			ObjectKey:   job.Keys.Image,
			ContentType: imaging.ContentTypeWebP,
			Metadata:    md,
			Reader:      bytes.NewReader(a.WebP),
			Size:        int64(len(a.WebP)),
		})
		return err
	})
	return g.Wait()
}

// Confirm heads both uploaded objects concurrently and resolves the
// preview's public URL.
func (h *OutputHandler) Confirm(ctx context.Context, job *Job) (Confirmed, error) {
	var c Confirmed

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := h.sp.HeadObject(gctx, job.Bucket, job.Keys.Model)
		c.Model = info
		return err
	})
	g.Go(func() error {
		info, err := h.sp.HeadObject(gctx, h.publicBucket, job.Keys.Image)
		c.Image = info
		return err
	})
	if err := g.Wait(); err != nil {
		return Confirmed{}, err
	}

	u, err := h.sp.PublicURL(ctx, h.publicBucket, job.Keys.Image)
	if err != nil {
		return Confirmed{}, err
	}
	c.ImagePreview = u
	return c, nil
}
