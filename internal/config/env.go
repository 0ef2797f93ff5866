package config

import (
	"strconv"
	"strings"
	"time"

	"refinery/internal/pkg/errors"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type env struct {
	lookup LookupFunc
}

func (e env) get(k string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(k)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e env) str(k string, dst *string) {
	if v, ok := e.get(k); ok {
		*dst = v
	}
}

// csv splits a comma-separated list; a value with no entries is ignored.
func (e env) csv(k string, dst *[]string) {
	v, ok := e.get(k)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func (e env) integer(k string, dst *int) error {
	v, ok := e.get(k)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.InvalidConfig(k, "not an integer: "+v)
	}
	*dst = n
	return nil
}

func (e env) int64(k string, dst *int64) error {
	v, ok := e.get(k)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.InvalidConfig(k, "not an integer: "+v)
	}
	*dst = n
	return nil
}

// boolean accepts what strconv.ParseBool accepts.
func (e env) boolean(k string, dst *bool) error {
	v, ok := e.get(k)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.InvalidConfig(k, "not a boolean: "+v)
	}
	*dst = b
	return nil
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func (e env) duration(k string, dst *time.Duration) error {
	v, ok := e.get(k)
	if !ok {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.InvalidConfig(k, "not a duration: "+v)
	}
	*dst = d
	return nil
}

func applyEnv(c *Config, e env) error {
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	e.str("SERVICE_NAME", &c.Log.ServiceName)

	e.str("QUEUE_DRIVER", &c.Queue.Driver)
	e.str("AWS_REFINERY_QUEUE", &c.Queue.TriggerQueue)
	e.str("AWS_SERVITOR_QUEUE", &c.Queue.NotifyQueue)
	e.str("REDIS_ADDR", &c.Queue.RedisAddr)
	e.str("REDIS_PASSWORD", &c.Queue.RedisPassword)
	e.str("AMQP_URL", &c.Queue.AMQPURL)

	e.str("STORAGE_PROVIDER", &c.Storage.Provider)
	e.str("AWS_S3_PUBLIC_BUCKET_NAME", &c.Storage.PublicBucket)
	e.str("UPLOAD_BUCKET", &c.Storage.UploadBucket)
	e.str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	e.str("AWS_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	e.str("AWS_SECRET_KEY", &c.Storage.S3.SecretAccessKey)
	e.str("AWS_REGION", &c.Storage.S3.Region)
	e.str("PUBLIC_BASE_URL", &c.Storage.S3.PublicBaseURL)
	e.str("STORAGE_LOCAL_ROOT", &c.Storage.Local.Root)
	e.str("STORAGE_LOCAL_PUBLIC_URL", &c.Storage.Local.PublicBaseURL)
	e.str("GDRIVE_CLIENT_ID", &c.Storage.GDrive.ClientID)
	e.str("GDRIVE_CLIENT_SECRET", &c.Storage.GDrive.ClientSecret)
	e.str("GDRIVE_REFRESH_TOKEN", &c.Storage.GDrive.RefreshToken)
	e.str("GDRIVE_FOLDER_ID", &c.Storage.GDrive.FolderID)

	e.str("MESH_COLOR", &c.Preview.Colors.Mesh)
	e.str("BACKGROUND_COLOR", &c.Preview.Colors.Background)
	e.str("FOG_COLOR", &c.Preview.Colors.Fog)

	e.str("METRICS_ADDR", &c.Worker.MetricsAddr)
	e.str("HTTP_PORT", &c.HTTP.Port)
	e.csv("CORS_ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)

	for _, step := range []func() error{
		func() error { return e.boolean("LOG_SOURCE", &c.Log.AddSource) },
		func() error { return e.integer("REDIS_DB", &c.Queue.RedisDB) },
		func() error { return e.duration("QUEUE_POLL_TIMEOUT", &c.Queue.PollTimeout) },
		func() error { return e.integer("QUEUE_MAX_ATTEMPTS", &c.Queue.MaxAttempts) },
		func() error { return e.boolean("S3_USE_SSL", &c.Storage.S3.UseSSL) },
		func() error { return e.integer("PREVIEW_WIDTH", &c.Preview.Width) },
		func() error { return e.integer("PREVIEW_HEIGHT", &c.Preview.Height) },
		func() error { return e.integer("PREVIEW_SUPERSAMPLE", &c.Preview.Supersample) },
		func() error { return e.integer("RENDER_MAX_CONTEXTS", &c.Preview.MaxContexts) },
		func() error { return e.integer("COMPRESSION_LEVEL", &c.Preview.CompressionLevel) },
		func() error { return e.integer("WORKER_CONCURRENCY", &c.Worker.Concurrency) },
		func() error { return e.duration("JOB_TIMEOUT", &c.Worker.JobTimeout) },
		func() error { return e.int64("HTTP_MAX_UPLOAD_BYTES", &c.HTTP.MaxUploadBytes) },
		func() error { return e.duration("HTTP_REQUEST_TIMEOUT", &c.HTTP.RequestTimeout) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
