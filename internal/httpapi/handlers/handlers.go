// Package handlers serves the local HTTP surface of refinery: synchronous
// conversion, direct uploads that feed the worker, and object streaming.
package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"refinery/internal/convert"
	perrors "refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/ports"
)

// multipartMemory is how much of a multipart body is held in memory before
// the rest spills to temp files.
const multipartMemory = 32 << 20

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	SP        ports.StorageProvider
	Trigger   ports.QueuePublisher
	Converter *convert.Converter
	Log       *logger.Logger

	// UploadBucket receives POST /uploads files; the worker's trigger fires
	// on it.
	UploadBucket   string
	TriggerQueue   string
	MaxUploadBytes int64
}

type Handler struct {
	sp             ports.StorageProvider
	trigger        ports.QueuePublisher
	conv           *convert.Converter
	log            *logger.Logger
	uploadBucket   string
	triggerQueue   string
	maxUploadBytes int64
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		sp:             d.SP,
		trigger:        d.Trigger,
		conv:           d.Converter,
		log:            log.WithComponent("httpapi"),
		uploadBucket:   d.UploadBucket,
		triggerQueue:   d.TriggerQueue,
		maxUploadBytes: d.MaxUploadBytes,
	}
}

// Log is the handler logger, for wrapping error-returning handlers.
func (h *Handler) Log() *logger.Logger { return h.log }

// upload is a model file read from a multipart request.
type upload struct {
	name string
	data []byte
}

// readUpload reads the "file" part of a multipart form, bounded by the
// configured upload limit.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, uploadError(err, h.maxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, perrors.ValidationField("file", "file is required")
	}
	defer file.Close()

	data, err := readAll(file, header)
	if err != nil {
		return nil, uploadError(err, h.maxUploadBytes)
	}
	if len(data) == 0 {
		return nil, perrors.ValidationField("file", "file is empty")
	}
	return &upload{name: header.Filename, data: data}, nil
}

func readAll(f multipart.File, header *multipart.FileHeader) ([]byte, error) {
	if header.Size > 0 {
		buf := make([]byte, header.Size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return io.ReadAll(f)
}

func uploadError(err error, limit int64) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return perrors.ValidationField("file", "upload exceeds "+strconv.FormatInt(limit, 10)+" bytes")
	}
	return perrors.WrapWithCode(err, perrors.CodeValidation, "httpapi.upload", "invalid multipart form").WithField("field", "file")
}
