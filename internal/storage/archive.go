// Package storage keeps gzip-JSON copies of ingested record batches in an
// S3-compatible object store, so raw ingestion output survives database
// reloads.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
)

// Archiver uploads record batches to the configured bucket.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver builds an S3-compatible client for the archive config.
// Returns nil, nil when archiving is not configured.
func NewArchiver(cfg *config.ArchiveConfig) (*Archiver, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	if a == nil {
		return nil
	}
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return createErr
	}
	return nil
}

// StoreBatch uploads one batch as gzip JSON and returns its object key
// (records/YYYY/MM/DD/<id>.json.gz).
func (a *Archiver) StoreBatch(ctx context.Context, records []model.CorrelatedRecord) (string, error) {
	if a == nil {
		return "", fmt.Errorf("archiver not configured")
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("gzip batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip batch: %w", err)
	}

	key := path.Join("records", time.Now().UTC().Format("2006/01/02"), uuid.New().String()+".json.gz")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// FetchBatch downloads and decodes one archived batch by key.
func (a *Archiver) FetchBatch(ctx context.Context, key string) ([]model.CorrelatedRecord, error) {
	if a == nil {
		return nil, fmt.Errorf("archiver not configured")
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	zr, err := gzip.NewReader(out.Body)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var records []model.CorrelatedRecord
	if err := json.Unmarshal(decoded, &records); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return records, nil
}
