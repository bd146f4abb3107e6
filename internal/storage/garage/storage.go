package garage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/storage"
)

const (
	defaultRegion = "garage"
	// Durée de validité des URLs présignées quand le bucket n'est pas exposé publiquement
	presignTTL = 7 * 24 * time.Hour
	// Un média publié n'est jamais réécrit sous la même clé
	mediaCacheControl = "public, max-age=31536000, immutable"
)

type garageStorage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

// NewGarageStorage ouvre le bucket des médias sur un endpoint S3-compatible (Garage, MinIO)
// et le crée s'il n'existe pas encore.
func NewGarageStorage(ctx context.Context, cfg *storage.StorageConfig) (storage.Storage, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 client config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// Garage ne sert pas les buckets en virtual-host
		o.UsePathStyle = true
	})

	g := &garageStorage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}
	if err := g.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return g, nil
}

func checkConfig(cfg *storage.StorageConfig) error {
	var missing []string
	if cfg.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if cfg.AccessKey == "" {
		missing = append(missing, "access key")
	}
	if cfg.SecretKey == "" {
		missing = append(missing, "secret key")
	}
	if cfg.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("garage storage misconfigured, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (g *garageStorage) ensureBucket(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("cannot reach bucket %s: %w", g.bucket, err)
	}

	_, err = g.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(g.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("bucket %s does not exist and cannot be created: %w", g.bucket, err)
	}
	return nil
}

// objectKey retire le "/" initial, S3 n'en utilise pas
func objectKey(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (g *garageStorage) Upload(ctx context.Context, path string, data io.Reader) error {
	key := objectKey(path)

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(g.bucket),
		Key:          aws.String(key),
		Body:         data,
		ContentType:  aws.String(storage.ContentType(key)),
		CacheControl: aws.String(mediaCacheControl),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Download retourne le corps de l'objet, à fermer par l'appelant
func (g *garageStorage) Download(ctx context.Context, path string) (io.Reader, error) {
	key := objectKey(path)

	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return out.Body, nil
}

func (g *garageStorage) Exists(ctx context.Context, path string) (bool, error) {
	key := objectKey(path)

	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	var notFound *types.NotFound
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &notFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to head %s: %w", key, err)
	}
}

// Delete est idempotent, S3 ne signale pas les clés absentes
func (g *garageStorage) Delete(ctx context.Context, path string) error {
	key := objectKey(path)

	if _, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (g *garageStorage) List(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(objectKey(prefix)),
	}

	var keys []string
	for pages := s3.NewListObjectsV2Paginator(g.client, input); pages.HasMorePages(); {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", aws.ToString(input.Prefix), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// GetURL préfère la base publique (website Garage, CDN) et présigne sinon
func (g *garageStorage) GetURL(ctx context.Context, path string) (string, error) {
	key := objectKey(path)
	if g.publicURL != "" {
		return storage.JoinURL(g.publicURL, key), nil
	}

	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
