// Package s3 implements ports.StorageProvider on any S3-compatible endpoint
// (AWS, MinIO, R2) through minio-go.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	PublicBaseURL   string
}

type Client struct {
	mc     *minio.Client
	region string
	public string
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidConfig("storage.s3.endpoint", "endpoint is required")
	}
	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		creds = credentials.NewEnvAWS()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeInvalidConfig, "s3.new", "cannot create s3 client")
	}
	return NewWithClient(mc, cfg.Region, cfg.PublicBaseURL), nil
}

func NewWithClient(mc *minio.Client, region, publicBaseURL string) *Client {
	return &Client{mc: mc, region: region, public: strings.TrimRight(publicBaseURL, "/")}
}

func (c *Client) Provider() string { return "s3" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object key is required")
	}
	if in.Reader == nil {
		in.Reader, in.Size = strings.NewReader(""), 0
	}
	info, err := c.mc.PutObject(ctx, in.Bucket, in.ObjectKey, in.Reader, in.Size, minio.PutObjectOptions{
		ContentType:     in.ContentType,
		ContentEncoding: in.ContentEncoding,
		UserMetadata:    in.Metadata,
	})
	if err != nil {
		return ports.PutObjectOutput{}, c.wrap(err, "s3.put", in.Bucket, in.ObjectKey)
	}
	return ports.PutObjectOutput{ObjectKey: info.Key, ETag: info.ETag, Size: info.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, ports.ObjectInfo, error) {
	obj, err := c.mc.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, ports.ObjectInfo{}, c.wrap(err, "s3.get", bucket, objectKey)
	}
	// GetObject is lazy; Stat performs the request.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ports.ObjectInfo{}, c.wrap(err, "s3.get", bucket, objectKey)
	}
	return obj, toInfo(bucket, st), nil
}

func (c *Client) HeadObject(ctx context.Context, bucket, objectKey string) (ports.ObjectInfo, error) {
	st, err := c.mc.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ports.ObjectInfo{}, c.wrap(err, "s3.head", bucket, objectKey)
	}
	return toInfo(bucket, st), nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	if err := c.mc.RemoveObject(ctx, bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return c.wrap(err, "s3.delete", bucket, objectKey)
	}
	return nil
}

// PublicURL returns "<public base>/<bucket>/<key>" when a base is configured,
// otherwise the AWS virtual-host address of the object.
func (c *Client) PublicURL(_ context.Context, bucket, objectKey string) (string, error) {
	escaped := escapePath(objectKey)
	if c.public != "" {
		return fmt.Sprintf("%s/%s/%s", c.public, bucket, escaped), nil
	}
	region := c.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, escaped), nil
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.mc.ListBuckets(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "s3.ping", "s3 endpoint unreachable")
	}
	return nil
}

func (c *Client) wrap(err error, op, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.NotFound("object", bucket+"/"+key)
	}
	return errors.Storage(err, op, bucket, key)
}

func toInfo(bucket string, st minio.ObjectInfo) ports.ObjectInfo {
	md := make(map[string]string, len(st.UserMetadata))
	for k, v := range st.UserMetadata {
		md[strings.ToLower(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"))] = v
	}
	return ports.ObjectInfo{
		Bucket:          bucket,
		ObjectKey:       st.Key,
		ETag:            st.ETag,
		Size:            st.Size,
		ContentType:     st.ContentType,
		ContentEncoding: st.Metadata.Get("Content-Encoding"),
		Metadata:        md,
		LastModified:    st.LastModified,
	}
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
