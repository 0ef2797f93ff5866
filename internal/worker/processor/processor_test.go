package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	v0 "refinery/internal/contracts/conversion/v0"
	"refinery/internal/convert"
	"refinery/internal/export"
	"refinery/internal/metrics"
	"refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/ports"
	"refinery/internal/raster"
	"refinery/internal/scene"
)

// memStorage is an in-memory StorageProvider that records the order of
// calls and can fail selected operations.
type memStorage struct {
	mu      sync.Mutex
	objects map[string]memObject
	calls   []string
	failOn  map[string]error
}

type memObject struct {
	data []byte
	info ports.ObjectInfo
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string]memObject{}, failOn: map[string]error{}}
}

func (m *memStorage) record(op, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := op + " " + bucket + "/" + key
	m.calls = append(m.calls, call)
	if err, ok := m.failOn[call]; ok {
		return err
	}
	return nil
}

func (m *memStorage) Provider() string { return "mem" }

func (m *memStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if err := m.record("put", in.Bucket, in.ObjectKey); err != nil {
		return ports.PutObjectOutput{}, err
	}
	data, _ := io.ReadAll(in.Reader)
	etag := fmt.Sprintf("etag-%d", len(data))
	m.mu.Lock()
	m.objects[in.Bucket+"/"+in.ObjectKey] = memObject{data: data, info: ports.ObjectInfo{
		Bucket: in.Bucket, ObjectKey: in.ObjectKey, ETag: etag, Size: int64(len(data)),
		ContentType: in.ContentType, ContentEncoding: in.ContentEncoding, Metadata: in.Metadata,
	}}
	m.mu.Unlock()
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, ETag: etag, Size: int64(len(data))}, nil
}

func (m *memStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ports.ObjectInfo, error) {
	if err := m.record("get", bucket, key); err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	o, ok := m.object(bucket, key)
	if !ok {
		return nil, ports.ObjectInfo{}, errors.NotFound("object", bucket+"/"+key)
	}
	return io.NopCloser(bytes.NewReader(o.data)), o.info, nil
}

func (m *memStorage) HeadObject(_ context.Context, bucket, key string) (ports.ObjectInfo, error) {
	if err := m.record("head", bucket, key); err != nil {
		return ports.ObjectInfo{}, err
	}
	o, ok := m.object(bucket, key)
	if !ok {
		return ports.ObjectInfo{}, errors.NotFound("object", bucket+"/"+key)
	}
	return o.info, nil
}

func (m *memStorage) DeleteObject(_ context.Context, bucket, key string) error {
	if err := m.record("delete", bucket, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStorage) PublicURL(_ context.Context, bucket, key string) (string, error) {
	return "https://cdn.test/" + bucket + "/" + key, nil
}

func (m *memStorage) Ping(context.Context) error { return nil }

func (m *memStorage) object(bucket, key string) (memObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[bucket+"/"+key]
	return o, ok
}

func (m *memStorage) seed(bucket, key string, data []byte, md map[string]string) {
	m.objects[bucket+"/"+key] = memObject{data: data, info: ports.ObjectInfo{
		Bucket: bucket, ObjectKey: key, Size: int64(len(data)), Metadata: md,
	}}
}

func (m *memStorage) callIndex(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.calls {
		if c == call {
			return i
		}
	}
	return -1
}

type memNotifier struct {
	sent []v0.Notification
	err  error
}

func (n *memNotifier) Publish(_ context.Context, msg v0.Notification) error {
	if n.err != nil {
		return n.err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	n.sent = append(n.sent, msg)
	return nil
}

const (
	srcBucket = "uploads"
	pubBucket = "public"
	width     = 48
	height    = 32
)

func newTestProcessor(t *testing.T, sp *memStorage, n *memNotifier) *Processor {
	t.Helper()
	conv, err := convert.New(raster.NewSoftwareProvider(raster.SoftwareOptions{MaxContexts: 2, Supersample: 1}),
		convert.Options{
			Width:            width,
			Height:           height,
			CompressionLevel: export.DefaultCompressionLevel,
			Colors:           scene.ColorConfig{Mesh: "#ffffff"},
		}, logger.Discard())
	require.NoError(t, err)

	return New(Deps{
		SP:           sp,
		Converter:    conv,
		Notifier:     n,
		PublicBucket: pubBucket,
		Metrics:      metrics.NewCollector("processor_test"),
		Log:          logger.Discard(),
	})
}

func stlTriangle() []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 80))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	for _, f := range []float32{0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0} {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(f))
	}
	buf.Write([]byte{0, 0})
	return buf.Bytes()
}

func event(bucket string, keys ...string) []byte {
	var recs []string
	for _, k := range keys {
		recs = append(recs, fmt.Sprintf(`{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":%q},"object":{"key":%q}}}`, bucket, k))
	}
	return []byte(`{"Records":[` + strings.Join(recs, ",") + `]}`)
}

func TestDeriveKeys(t *testing.T) {
	tests := []struct {
		in, model, image string
	}{
		{"uploads/user1/dragon.obj", "models/dragon.glb", "images/dragon.webp"},
		{"dragon.stl", "models/dragon.glb", "images/dragon.webp"},
		{"a/b/c.tar.stl", "models/c.tar.glb", "images/c.tar.webp"},
		{"a/b/noext", "models/noext.glb", "images/noext.webp"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := DeriveKeys(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.model, k.Model)
			assert.Equal(t, tt.image, k.Image)
		})
	}

	for _, bad := range []string{"", "dir/.stl", "/"} {
		_, err := DeriveKeys(bad)
		assert.True(t, errors.IsValidation(err), "key %q", bad)
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "my_dragon.stl", SanitizeFilename(" my dragon.stl "))
	assert.Equal(t, "_etc_passwd", SanitizeFilename("../etc/passwd"))
	assert.Equal(t, "model", SanitizeFilename(".."))
	assert.Equal(t, "model", SanitizeFilename(""))
}

func TestGzipRoundTrip(t *testing.T) {
	in := bytes.Repeat([]byte("glTF"), 1000)
	out, err := Gzip(in)
	require.NoError(t, err)
	assert.Less(t, len(out), len(in))

	zr, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestProcessSTLEndToEnd(t *testing.T) {
	sp := newMemStorage()
	sp.seed(srcBucket, "uploads/u1/tri.stl", stlTriangle(), map[string]string{"X-Amz-Meta-Model": "model-42"})
	n := &memNotifier{}
	p := newTestProcessor(t, sp, n)

	require.NoError(t, p.Handle(context.Background(), event(srcBucket, "uploads/u1/tri.stl")))
	require.Len(t, n.sent, 1)
	got := n.sent[0]

	assert.Equal(t, "model-42", got.ModelID)
	assert.Equal(t, "uploads/u1/tri.stl", got.File.OriginalKey)
	assert.Equal(t, "models/tri.glb", got.File.Key)
	assert.Equal(t, "https://cdn.test/public/images/tri.webp", got.File.ImagePreview)
	assert.Equal(t, srcBucket, got.File.Bucket)
	assert.NotEmpty(t, got.File.ETag)
	assert.Positive(t, got.File.Size)

	glbObj, ok := sp.object(srcBucket, "models/tri.glb")
	require.True(t, ok)
	assert.Equal(t, "gzip", glbObj.info.ContentEncoding)
	assert.Equal(t, export.ContentType, glbObj.info.ContentType)
	assert.Equal(t, "model-42", glbObj.info.Metadata[ModelMetadataKey])
	assert.Equal(t, glbObj.info.ETag, got.File.ETag)
	assert.Equal(t, glbObj.info.Size, got.File.Size)

	zr, err := gzip.NewReader(bytes.NewReader(glbObj.data))
	require.NoError(t, err)
	glb, err := io.ReadAll(zr)
	require.NoError(t, err)
	ci, err := export.Inspect(glb)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(glb)), ci.Length)

	imgObj, ok := sp.object(pubBucket, "images/tri.webp")
	require.True(t, ok)
	cfg, err := webp.DecodeConfig(bytes.NewReader(imgObj.data))
	require.NoError(t, err)
	assert.Equal(t, image.Config{ColorModel: cfg.ColorModel, Width: width, Height: height}, cfg)

	_, ok = sp.object(srcBucket, "uploads/u1/tri.stl")
	assert.False(t, ok, "source deleted")

	del := sp.callIndex("delete uploads/uploads/u1/tri.stl")
	require.GreaterOrEqual(t, del, 0)
	assert.Greater(t, del, sp.callIndex("head uploads/models/tri.glb"))
	assert.Greater(t, del, sp.callIndex("head public/images/tri.webp"))
}

func TestProcessJobStates(t *testing.T) {
	sp := newMemStorage()
	sp.seed(srcBucket, "a/cube.stl", stlTriangle(), map[string]string{"model": "m"})
	p := newTestProcessor(t, sp, &memNotifier{})

	job := newJob("job_1", srcBucket, "a/cube.stl", nil)
	_, err := p.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	h := job.History()
	assert.Equal(t, StateReceived, h[0])
	assert.Equal(t, StateNotified, h[len(h)-1])
	assert.Contains(t, h, StateExported)
	assert.Contains(t, h, StateRendered)
	assert.Contains(t, h, StateEncoded)
	assert.Less(t, indexOf(h, StateParsed), indexOf(h, StateScened))
	assert.Less(t, indexOf(h, StateScened), indexOf(h, StateCompressed))
	assert.Less(t, indexOf(h, StateCompressed), indexOf(h, StateUploaded))
}

func indexOf(states []State, s State) int {
	for i, v := range states {
		if v == s {
			return i
		}
	}
	return -1
}

func TestModelIDFromEventMetadata(t *testing.T) {
	sp := newMemStorage()
	sp.seed(srcBucket, "x/tri.stl", stlTriangle(), nil)
	n := &memNotifier{}
	p := newTestProcessor(t, sp, n)

	job := newJob("job_1", srcBucket, "x/tri.stl", map[string]string{"model": "from-event"})
	_, err := p.ProcessJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "from-event", n.sent[0].ModelID)
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		data   []byte
		md     map[string]string
		fail   map[string]error
		notify error
		code   errors.Code
		state  State
	}{
		{
			name: "missing model metadata",
			key:  "u/tri.stl", data: stlTriangle(),
			code: errors.CodeValidation,
		},
		{
			name: "unsupported extension",
			key:  "u/tri.fbx", data: stlTriangle(), md: map[string]string{"model": "m"},
			code: errors.CodeUnsupportedFormat,
		},
		{
			name: "malformed obj",
			key:  "u/bad.obj", data: []byte("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"), md: map[string]string{"model": "m"},
			code: errors.CodeMalformedInput,
		},
		{
			name: "empty stl",
			key:  "u/empty.stl", data: append(make([]byte, 80), 0, 0, 0, 0), md: map[string]string{"model": "m"},
			code: errors.CodeExport,
		},
		{
			name: "image upload fails",
			key:  "u/tri.stl", data: stlTriangle(), md: map[string]string{"model": "m"},
			fail: map[string]error{"put public/images/tri.webp": errors.Storage(fmt.Errorf("reset"), "put", pubBucket, "images/tri.webp")},
			code: errors.CodeStorage,
		},
		{
			name: "model head fails",
			key:  "u/tri.stl", data: stlTriangle(), md: map[string]string{"model": "m"},
			fail: map[string]error{"head uploads/models/tri.glb": errors.Storage(fmt.Errorf("timeout"), "head", srcBucket, "models/tri.glb")},
			code: errors.CodeStorage,
		},
		{
			name: "notification fails",
			key:  "u/tri.stl", data: stlTriangle(), md: map[string]string{"model": "m"},
			notify: errors.Unavailable("queue"),
			code:   errors.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := newMemStorage()
			sp.seed(srcBucket, tt.key, tt.data, tt.md)
			for k, v := range tt.fail {
				sp.failOn[k] = v
			}
			n := &memNotifier{err: tt.notify}
			p := newTestProcessor(t, sp, n)

			job := newJob("job_1", srcBucket, tt.key, nil)
			_, err := p.ProcessJob(context.Background(), job)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
			assert.Equal(t, StateFailed, job.State())
			assert.Empty(t, n.sent)

			if tt.notify == nil {
				_, ok := sp.object(srcBucket, tt.key)
				assert.True(t, ok, "source must survive a failure before confirmation")
				assert.Equal(t, -1, sp.callIndex("delete "+srcBucket+"/"+tt.key))
			}
		})
	}
}

func TestHandleMultipleRecords(t *testing.T) {
	sp := newMemStorage()
	sp.seed(srcBucket, "a/one.stl", stlTriangle(), map[string]string{"model": "m1"})
	sp.seed(srcBucket, "a/two.stl", stlTriangle(), map[string]string{"model": "m2"})
	n := &memNotifier{}
	p := newTestProcessor(t, sp, n)

	err := p.Handle(context.Background(), event(srcBucket, "a/one.stl", "a/missing.stl", "a/two.stl"))
	assert.True(t, errors.IsNotFound(err))
	require.Len(t, n.sent, 2)
	assert.Equal(t, "m1", n.sent[0].ModelID)
	assert.Equal(t, "m2", n.sent[1].ModelID)
}

func TestHandleIgnoresNonCreateEvents(t *testing.T) {
	p := newTestProcessor(t, newMemStorage(), &memNotifier{})
	body := []byte(`{"Records":[{"eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"b"},"object":{"key":"k.stl"}}}]}`)
	assert.NoError(t, p.Handle(context.Background(), body))
	assert.Error(t, p.Handle(context.Background(), []byte("not json")))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(errors.UnsupportedFormat("fbx")))
	assert.False(t, Retryable(errors.MalformedInput("loader.obj", "bad")))
	assert.False(t, Retryable(errors.Export("empty")))
	assert.False(t, Retryable(errors.NotFound("object", "k")))
	assert.True(t, Retryable(errors.Storage(fmt.Errorf("reset"), "put", "b", "k")))
	assert.True(t, Retryable(errors.RenderContext(nil, "busy")))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
}
