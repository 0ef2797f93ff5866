package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	fileFields = "id,name,size,md5Checksum,mimeType,modifiedTime,appProperties"

	// encodingProp keeps Content-Encoding, which Drive has no field for.
	encodingProp = "content_encoding"
)

// Client implements ports.StorageProvider backed by Google Drive.
// Each bucket is a sub-folder of the configured root folder and each
// object key is stored verbatim as the file name. User metadata lives in
// appProperties.
type Client struct {
	srv    *drive.Service
	rootID string

	mu      sync.Mutex
	folders map[string]string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	if folderID == "" {
		folderID = "root"
	}
	return &Client{srv: srv, rootID: folderID, folders: map[string]string{}}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object key is required")
	}
	folderID, err := c.folder(ctx, in.Bucket, true)
	if err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "gdrive.put", in.Bucket, in.ObjectKey)
	}
	existing, err := c.find(ctx, folderID, in.ObjectKey)
	if err != nil && !errors.IsNotFound(err) {
		return ports.PutObjectOutput{}, errors.Storage(err, "gdrive.put", in.Bucket, in.ObjectKey)
	}

	props := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		props[strings.ToLower(k)] = v
	}
	if in.ContentEncoding != "" {
		props[encodingProp] = in.ContentEncoding
	}

	var media []googleapi.MediaOption
	if in.ContentType != "" {
		media = append(media, googleapi.ContentType(in.ContentType))
	}
	reader := in.Reader
	if reader == nil {
		reader = strings.NewReader("")
	}

	var f *drive.File
	if existing != nil {
		f, err = c.srv.Files.Update(existing.Id, &drive.File{MimeType: in.ContentType, AppProperties: props}).
			Media(reader, media...).
			Fields(fileFields).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	} else {
		f, err = c.srv.Files.Create(&drive.File{
			Name:          in.ObjectKey,
			Parents:       []string{folderID},
			MimeType:      in.ContentType,
			AppProperties: props,
		}).
			Media(reader, media...).
			Fields(fileFields).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if err != nil {
		return ports.PutObjectOutput{}, errors.Storage(err, "gdrive.put", in.Bucket, in.ObjectKey)
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, ETag: f.Md5Checksum, Size: f.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, ports.ObjectInfo, error) {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return nil, ports.ObjectInfo{}, c.wrap(err, "gdrive.get", bucket, objectKey)
	}
	resp, err := c.srv.Files.Get(f.Id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, ports.ObjectInfo{}, c.wrap(err, "gdrive.get", bucket, objectKey)
	}
	return resp.Body, toInfo(bucket, f), nil
}

func (c *Client) HeadObject(ctx context.Context, bucket, objectKey string) (ports.ObjectInfo, error) {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return ports.ObjectInfo{}, c.wrap(err, "gdrive.head", bucket, objectKey)
	}
	return toInfo(bucket, f), nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return c.wrap(err, "gdrive.delete", bucket, objectKey)
	}
	if err := c.srv.Files.Delete(f.Id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return c.wrap(err, "gdrive.delete", bucket, objectKey)
	}
	return nil
}

func (c *Client) PublicURL(ctx context.Context, bucket, objectKey string) (string, error) {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return "", c.wrap(err, "gdrive.url", bucket, objectKey)
	}
	return "https://drive.google.com/uc?export=download&id=" + f.Id, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.srv.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.ping", "drive api unreachable")
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, bucket, objectKey string) (*drive.File, error) {
	folderID, err := c.folder(ctx, bucket, false)
	if err != nil {
		return nil, err
	}
	return c.find(ctx, folderID, objectKey)
}

// folder resolves a bucket name to its folder id, creating it on demand.
func (c *Client) folder(ctx context.Context, bucket string, create bool) (string, error) {
	if bucket == "" {
		return c.rootID, nil
	}
	c.mu.Lock()
	id, ok := c.folders[bucket]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		escapeQuery(bucket), folderMime, escapeQuery(c.rootID))
	list, err := c.srv.Files.List().Q(q).Fields("files(id)").
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	switch {
	case len(list.Files) > 0:
		id = list.Files[0].Id
	case create:
		f, err := c.srv.Files.Create(&drive.File{Name: bucket, MimeType: folderMime, Parents: []string{c.rootID}}).
			Fields("id").SupportsAllDrives(true).Context(ctx).Do()
		if err != nil {
			return "", err
		}
		id = f.Id
	default:
		return "", errors.NotFound("bucket", bucket)
	}

	c.mu.Lock()
	c.folders[bucket] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) find(ctx context.Context, folderID, objectKey string) (*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(objectKey), escapeQuery(folderID))
	list, err := c.srv.Files.List().Q(q).Fields("files(" + fileFields + ")").
		OrderBy("modifiedTime desc").PageSize(1).
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(list.Files) == 0 {
		return nil, errors.NotFound("object", objectKey)
	}
	return list.Files[0], nil
}

func (c *Client) wrap(err error, op, bucket, key string) error {
	if errors.IsNotFound(err) {
		return errors.NotFound("object", bucket+"/"+key)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.NotFound("object", bucket+"/"+key)
	}
	return errors.Storage(err, op, bucket, key)
}

func toInfo(bucket string, f *drive.File) ports.ObjectInfo {
	md := make(map[string]string, len(f.AppProperties))
	var encoding string
	for k, v := range f.AppProperties {
		if k == encodingProp {
			encoding = v
			continue
		}
		md[k] = v
	}
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return ports.ObjectInfo{
		Bucket:          bucket,
		ObjectKey:       f.Name,
		ETag:            f.Md5Checksum,
		Size:            f.Size,
		ContentType:     f.MimeType,
		ContentEncoding: encoding,
		Metadata:        md,
		LastModified:    modified,
	}
}

// escapeQuery quotes a value for a Drive search query string literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

var _ ports.StorageProvider = (*Client)(nil)
