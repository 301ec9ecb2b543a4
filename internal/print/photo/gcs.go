package photo

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"printflow/internal/platform/config"
	"printflow/pkg/platform/sentinel"
)

// GCSSource reads photos from a Cloud Storage bucket. Credentials come from
// the environment (application default credentials) unless an explicit JSON
// key is configured.
type GCSSource struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func NewGCS(ctx context.Context, cfg config.Photos) (*GCSSource, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

// Close releases the underlying storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

func (s *GCSSource) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	reader, err := s.bucket.Object(location).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("photo %s: %w", location, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("photo %s: %w", location, err)
	}
	return reader, nil
}
