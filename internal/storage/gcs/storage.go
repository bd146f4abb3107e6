package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/storage"
)

type gcsStorage struct {
	client    *gcstorage.Client
	bucket    string
	publicURL string
}

// NewGCSStorage crée un storage Google Cloud Storage. Sans fichier de credentials,
// le client utilise les Application Default Credentials.
func NewGCSStorage(ctx context.Context, cfg *storage.StorageConfig) (storage.Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	opts := []option.ClientOption{option.WithScopes(gcstorage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &gcsStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

func (g *gcsStorage) object(path string) *gcstorage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(strings.TrimPrefix(path, "/"))
}

func (g *gcsStorage) Upload(ctx context.Context, path string, data io.Reader) error {
	key := strings.TrimPrefix(path, "/")

	w := g.object(key).NewWriter(ctx)
	w.ContentType = storage.ContentType(key)
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object %s to bucket %s: %w", key, g.bucket, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", key, err)
	}
	return nil
}

func (g *gcsStorage) Download(ctx context.Context, path string) (io.Reader, error) {
	r, err := g.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to download object %s from bucket %s: %w", path, g.bucket, err)
	}
	return r, nil
}

func (g *gcsStorage) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := g.object(path).Attrs(ctx); err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence %s: %w", path, err)
	}
	return true, nil
}

func (g *gcsStorage) Delete(ctx context.Context, path string) error {
	if err := g.object(path).Delete(ctx); err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", path, g.bucket, err)
	}
	return nil
}

func (g *gcsStorage) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcstorage.Query{Prefix: strings.TrimPrefix(prefix, "/")})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// GetURL retourne l'URL via le CDN/domaine public configuré, sinon l'URL publique GCS
func (g *gcsStorage) GetURL(ctx context.Context, path string) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(path), "/")
	if g.publicURL != "" {
		return storage.JoinURL(g.publicURL, key), nil
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key), nil
}
