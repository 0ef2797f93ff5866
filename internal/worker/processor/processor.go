package processor

import (
	"context"
	"time"

	v0 "refinery/internal/contracts/conversion/v0"
	"refinery/internal/convert"
	"refinery/internal/loader"
	"refinery/internal/metrics"
	"refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/ports"
)

// Notifier publishes completion notifications.
type Notifier interface {
	Publish(ctx context.Context, n v0.Notification) error
}

type Deps struct {
	SP           ports.StorageProvider
	Converter    *convert.Converter
	Notifier     Notifier
	PublicBucket string
	// MaxSourceBytes bounds a source download; 0 means unbounded.
	MaxSourceBytes int64
	Metrics        *metrics.Collector
	Log            *logger.Logger
}

type Processor struct {
	notifier Notifier
	metrics  *metrics.Collector
	log      *logger.Logger

	jobParser     *JobParser
	inputHandler  *InputHandler
	converter     *ConverterAdapter
	outputHandler *OutputHandler
	cleanup       *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	return &Processor{
		notifier:      d.Notifier,
		metrics:       d.Metrics,
		log:           log,
		jobParser:     NewJobParser(),
		inputHandler:  NewInputHandler(d.SP, d.MaxSourceBytes),
		converter:     NewConverterAdapter(d.Converter, d.Metrics),
		outputHandler: NewOutputHandler(d.SP, d.PublicBucket),
		cleanup:       NewCleanup(d.SP),
	}
}

// Handle processes every object-created record of one trigger message.
// Records are independent; the first failure is returned after all of
// them were attempted so the trigger can redeliver the message.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	jobs, err := p.jobParser.Parse(body)
	if err != nil {
		p.log.FromContext(ctx).Warn("discarding unparsable trigger message", "error", err.Error())
		return err
	}
	if len(jobs) == 0 {
		p.log.FromContext(ctx).Debug("trigger message has no object-created records")
		return nil
	}

	var first error
	for _, job := range jobs {
		if _, err := p.ProcessJob(ctx, job); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ProcessJob runs one job to NOTIFIED and returns the published
// notification.
func (p *Processor) ProcessJob(ctx context.Context, job *Job) (*v0.Notification, error) {
	ctx = logger.ContextWithJobID(ctx, job.ID)
	log := p.log.FromContext(ctx).WithObject(job.Bucket, job.SourceKey)
	log.Info("job received")

	// 1. Format and output keys
	format, err := loader.FormatFromKey(job.SourceKey)
	if err != nil {
		return nil, p.failJob(ctx, job, "detect", err)
	}
	job.Format = format

	keys, err := DeriveKeys(job.SourceKey)
	if err != nil {
		return nil, p.failJob(ctx, job, "keys", err)
	}
	job.Keys = keys
	log.Debug("output keys derived", "model_key", keys.Model, "image_key", keys.Image)

	// 2. Download the source
	start := time.Now()
	data, err := p.inputHandler.Fetch(ctx, job)
	if err != nil {
		return nil, p.failJob(ctx, job, "fetch", err)
	}
	p.metrics.ObserveStage("fetch", time.Since(start))
	p.metrics.ObserveArtifact("source", len(data))
	log.Debug("source fetched", "bytes", len(data), "model_id", job.ModelID)

	// 3. Parse, build the scene, export and render
	result, err := p.converter.Convert(ctx, job, data)
	if err != nil {
		return nil, p.failJob(ctx, job, "convert", err)
	}

	// 4. Transport compression
	start = time.Now()
	glb, err := Gzip(result.GLB)
	if err != nil {
		return nil, p.failJob(ctx, job, "compress", err)
	}
	p.metrics.ObserveStage("compress", time.Since(start))
	job.advance(StateCompressed)
	p.metrics.ObserveArtifact("glb", len(result.GLB))
	p.metrics.ObserveArtifact("glb_gzip", len(glb))
	p.metrics.ObserveArtifact("webp", len(result.WebP))
	log.Debug("model compressed", "glb_bytes", len(result.GLB), "gzip_bytes", len(glb))

	// 5. Upload both artifacts, then confirm both
	start = time.Now()
	if err := p.outputHandler.Upload(ctx, job, Artifacts{GLB: glb, WebP: result.WebP}); err != nil {
		return nil, p.failJob(ctx, job, "upload", err)
	}
	confirmed, err := p.outputHandler.Confirm(ctx, job)
	if err != nil {
		return nil, p.failJob(ctx, job, "confirm", err)
	}
	p.metrics.ObserveStage("upload", time.Since(start))
	job.advance(StateUploaded)
	log.Debug("artifacts confirmed", "etag", confirmed.Model.ETag, "size", confirmed.Model.Size)

	// 6. Remove the source only now that both copies exist
	if err := p.cleanup.DeleteSource(ctx, job, confirmed); err != nil {
		return nil, p.failJob(ctx, job, "cleanup", err)
	}
	log.Debug("source deleted")

	// 7. Notify
	n := v0.Notification{
		ModelID: job.ModelID,
		File: v0.File{
			OriginalKey:  job.SourceKey,
			Key:          job.Keys.Model,
			ImagePreview: confirmed.ImagePreview,
			ETag:         confirmed.Model.ETag,
			Size:         confirmed.Model.Size,
			Bucket:       job.Bucket,
		},
	}
	if err := p.notifier.Publish(ctx, n); err != nil {
		return nil, p.failJob(ctx, job, "notify", err)
	}
	job.advance(StateNotified)

	d := time.Since(job.Started)
	p.metrics.RecordJob(metrics.StatusSucceeded, d)
	log.Info("job completed",
		"model_id", job.ModelID,
		"model_key", job.Keys.Model,
		"vertices", result.Vertices,
		"triangles", result.Triangles,
		"duration_ms", d.Milliseconds(),
	)
	return &n, nil
}

func (p *Processor) failJob(ctx context.Context, job *Job, stage string, cause error) error {
	job.advance(StateFailed)
	p.metrics.RecordJob(metrics.StatusFailed, time.Since(job.Started))

	ctx = logger.ContextWithStage(ctx, stage)
	p.log.WithObject(job.Bucket, job.SourceKey).
		LogFailure(ctx, "job failed", cause, "retryable", Retryable(cause))
	return cause
}

// Retryable reports whether redelivering the trigger could succeed. Input
// and configuration faults fail the same way every time.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch errors.GetCode(err) {
	case errors.CodeUnsupportedFormat,
		errors.CodeMalformedInput,
		errors.CodeInvalidConfig,
		errors.CodeExport,
		errors.CodeRender,
		errors.CodeCompression,
		errors.CodeValidation,
		errors.CodeNotFound,
		errors.CodeFailedPrecond:
		return false
	default:
		return true
	}
}
