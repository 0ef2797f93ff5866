package storage

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"refinery/internal/adapters/storage/gdrive"
	"refinery/internal/adapters/storage/localfs"
	"refinery/internal/adapters/storage/s3"
	"refinery/internal/config"
	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// Provider is the object store the worker reads sources from and writes
// artifacts to. The API shares the same contract for uploads and /objects.
type Provider = ports.StorageProvider

// NewProvider builds the backend named by cfg.Provider. An empty name
// selects s3.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "s3", "":
		c, err := s3.New(s3.Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
			UseSSL:          cfg.S3.UseSSL,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return c, nil

	case "localfs":
		if cfg.Local.Root == "" {
			return nil, errors.InvalidConfig("storage.local.root", "STORAGE_LOCAL_ROOT is required")
		}
		return localfs.New(cfg.Local.Root, cfg.Local.PublicBaseURL), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)

	default:
		return nil, errors.InvalidConfig("storage.provider", "unknown storage provider: "+cfg.Provider)
	}
}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (Provider, error) {
	for field, v := range map[string]string{
		"GDRIVE_CLIENT_ID":     cfg.ClientID,
		"GDRIVE_CLIENT_SECRET": cfg.ClientSecret,
		"GDRIVE_REFRESH_TOKEN": cfg.RefreshToken,
	} {
		if v == "" {
			return nil, errors.InvalidConfig(field, "missing "+field)
		}
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeInvalidConfig, "storage.gdrive", "cannot create drive service")
	}

	return gdrive.NewClient(srv, cfg.FolderID), nil
}
