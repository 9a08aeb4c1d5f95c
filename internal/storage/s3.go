package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/edvin/drvault/internal/config"
)

// S3 is one remote object-store backend speaking the S3 protocol against
// a custom endpoint. The engine runs two of these with fully independent
// credentials, regions and endpoints.
type S3 struct {
	logger zerolog.Logger
	client *s3.Client
	name   string
	bucket string
	quota  int64
}

func NewS3(logger zerolog.Logger, name string, target config.S3Target) *S3 {
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(target.Endpoint),
		Region:       target.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(target.AccessKey, target.SecretKey, ""),
		UsePathStyle: true,
	})

	return &S3{
		logger: logger.With().Str("component", "storage-"+name).Logger(),
		client: client,
		name:   name,
		bucket: target.Bucket,
		quota:  target.QuotaBytes,
	}
}

func (r *S3) Name() string { return r.name }

func (r *S3) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", localPath, err)
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("put %s to %s: %w", key, r.name, err)
	}

	r.logger.Debug().Str("key", key).Int64("size", info.Size()).Msg("uploaded artifact")
	return nil
}

func (r *S3) Download(ctx context.Context, key, localPath string) error {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("get %s from %s: %w", key, r.name, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0750); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("read %s from %s: %w", key, r.name, err)
	}
	return f.Close()
}

func (r *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s on %s: %w", key, r.name, err)
	}
	return true, nil
}

func (r *S3) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s from %s: %w", key, r.name, err)
	}
	return nil
}

func (r *S3) Size(ctx context.Context, key string) (int64, error) {
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, fmt.Errorf("head %s on %s: %w", key, r.name, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (r *S3) Usage(ctx context.Context) (int64, int64, error) {
	var used int64
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("list bucket %s on %s: %w", r.bucket, r.name, err)
		}
		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
	}
	return used, r.quota, nil
}

// isNotFound matches the typed missing-object errors the SDK models.
// HeadObject reports NotFound, GetObject reports NoSuchKey; custom
// endpoints sometimes only carry the API error code.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
