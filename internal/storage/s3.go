package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/rs/zerolog/log"
)

// Uploader stores generated images in an S3-compatible bucket and returns
// stable public URLs. Upload failures must never fail a generation; callers
// degrade to inline storage.
type Uploader struct {
	client        *s3.Client
	bucket        string
	endpoint      string
	publicBaseURL string
	timeout       time.Duration
}

// New creates an uploader against the configured S3-compatible endpoint
func New(ctx context.Context, cfg *config.StorageConfig) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		timeout:       cfg.UploadTimeout,
	}, nil
}

// objectKey builds a dated key under the given folder namespace
func objectKey(folder string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("%s/%d/%02d/%02d/%s.png", folder, d.Year(), d.Month(), d.Day(), uuid.New())
}

// Upload stores image bytes under a dated key and returns the public URL
// and the object key for later deletion
func (u *Uploader) Upload(ctx context.Context, data []byte, contentType, folder string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	key := objectKey(folder)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload image: %w", err)
	}

	return u.publicURL(key), key, nil
}

// Delete removes a stored object by its key
func (u *Uploader) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	log.Debug().Str("key", key).Msg("Deleted stored image")
	return nil
}

func (u *Uploader) publicURL(key string) string {
	if u.publicBaseURL != "" {
		return u.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, key)
}
