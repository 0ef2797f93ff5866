package localfs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// metaDir holds one JSON sidecar per object with the attributes a
// filesystem cannot store.
const metaDir = ".meta"

// LocalFS implements ports.StorageProvider using the local filesystem.
// Buckets are directories under root.
type LocalFS struct {
	root      string
	publicURL string
}

type sidecar struct {
	ContentType     string            `json:"content_type,omitempty"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	ETag            string            `json:"etag"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// New roots the store at root. publicBaseURL is the address of the API's
// object route; empty yields file:// URLs.
func New(root, publicBaseURL string) *LocalFS {
	return &LocalFS{root: root, publicURL: strings.TrimRight(publicBaseURL, "/")}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, meta, err := l.paths(in.Bucket, in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "localfs.put", in.Bucket, in.ObjectKey)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "localfs.put", in.Bucket, in.ObjectKey)
	}
	defer os.Remove(tmp.Name())

	h := md5.New()
	var src io.Reader = in.Reader
	if src == nil {
		src = strings.NewReader("")
	}
	n, err := io.Copy(io.MultiWriter(tmp, h), readerWithContext{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "localfs.put", in.Bucket, in.ObjectKey)
	}

	sc := sidecar{
		ContentType:     in.ContentType,
		ContentEncoding: in.ContentEncoding,
		ETag:            hex.EncodeToString(h.Sum(nil)),
		Metadata:        in.Metadata,
	}
	if err := writeSidecar(meta, sc); err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "localfs.put", in.Bucket, in.ObjectKey)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "localfs.put", in.Bucket, in.ObjectKey)
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, ETag: sc.ETag, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, ports.ObjectInfo, error) {
	info, err := l.HeadObject(ctx, bucket, objectKey)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	p, _, _ := l.paths(bucket, objectKey)
	f, err := os.Open(p)
	if err != nil {
		return nil, ports.ObjectInfo{}, l.wrap(err, "localfs.get", bucket, objectKey)
	}
	return f, info, nil
}

func (l *LocalFS) HeadObject(ctx context.Context, bucket, objectKey string) (ports.ObjectInfo, error) {
	p, meta, err := l.paths(bucket, objectKey)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return ports.ObjectInfo{}, l.wrap(err, "localfs.head", bucket, objectKey)
	}
	if st.IsDir() {
		return ports.ObjectInfo{}, errors.NotFound("object", bucket+"/"+objectKey)
	}

	sc, err := readSidecar(meta)
	if err != nil {
		return ports.ObjectInfo{}, errors.Storage(err, "localfs.head", bucket, objectKey)
	}
	if sc.ContentType == "" {
		sc.ContentType = mime.TypeByExtension(path.Ext(objectKey))
	}
	return ports.ObjectInfo{
		Bucket:          bucket,
		ObjectKey:       objectKey,
		ETag:            sc.ETag,
		Size:            st.Size(),
		ContentType:     sc.ContentType,
		ContentEncoding: sc.ContentEncoding,
		Metadata:        sc.Metadata,
		LastModified:    st.ModTime().UTC(),
	}, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	p, meta, err := l.paths(bucket, objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return l.wrap(err, "localfs.delete", bucket, objectKey)
	}
	if err := os.Remove(meta); err != nil && !os.IsNotExist(err) {
		return errors.Storage(err, "localfs.delete", bucket, objectKey)
	}
	return nil
}

func (l *LocalFS) PublicURL(_ context.Context, bucket, objectKey string) (string, error) {
	p, _, err := l.paths(bucket, objectKey)
	if err != nil {
		return "", err
	}
	if l.publicURL == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
	}
	return l.publicURL + "/" + url.PathEscape(bucket) + "/" + (&url.URL{Path: objectKey}).EscapedPath(), nil
}

func (l *LocalFS) Ping(ctx context.Context) error {
	st, err := os.Stat(l.root)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "localfs.ping", "storage root unavailable")
	}
	if !st.IsDir() {
		return errors.New(errors.CodeUnavailable, "storage root is not a directory").WithField("root", l.root)
	}
	return nil
}

// paths resolves the data and sidecar paths, refusing keys that would
// escape the bucket directory.
func (l *LocalFS) paths(bucket, objectKey string) (string, string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." || bucket == metaDir {
		return "", "", errors.ValidationField("bucket", "invalid bucket name")
	}
	if objectKey == "" {
		return "", "", errors.ValidationField("object_key", "object key is required")
	}
	clean := path.Clean("/" + objectKey)
	if clean == "/" || clean[1:] != strings.TrimPrefix(objectKey, "/") {
		return "", "", errors.ValidationField("object_key", "object key must be a clean relative path")
	}
	rel := filepath.FromSlash(clean[1:])
	return filepath.Join(l.root, bucket, rel),
		filepath.Join(l.root, metaDir, bucket, rel+".json"),
		nil
}

func (l *LocalFS) wrap(err error, op, bucket, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.NotFound("object", bucket+"/"+key)
	}
	return errors.Storage(err, op, bucket, key)
}

func writeSidecar(p string, sc sidecar) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(p, raw, 0o644)
}

// readSidecar tolerates a missing sidecar for files dropped in by hand.
func readSidecar(p string) (sidecar, error) {
	raw, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return sidecar{}, nil
	}
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, err
	}
	return sc, nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

var _ ports.StorageProvider = (*LocalFS)(nil)
