// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package s3 stores artifacts in an S3-compatible bucket. Two clients are
// held: the internal one performs server-side I/O against the internal
// endpoint, the external one only signs URLs served to clients.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/util/log"
)

const pluginName = "s3"

const presignExpiry = 15 * time.Minute

// BucketMissing is fatal to startup: the bucket must exist before any
// artifact is written.
type BucketMissing struct {
	Bucket string
}

func (e *BucketMissing) Error() string {
	return fmt.Sprintf("s3 bucket %q does not exist", e.Bucket)
}

// Config carries the S3 connection settings.
type Config struct {
	InternalEndpoint string
	ExternalEndpoint string
	AccessKey        string
	SecretKey        string
	Region           string
	BucketName       string
	InternalSecure   bool
	ExternalSecure   bool
}

// Storage implements plugins.StoragePlugin over an S3-compatible bucket.
type Storage struct {
	cfg Config

	internal *s3.Client
	presign  *s3.PresignClient

	bucketOnce sync.Once
	bucketErr  error
}

// New builds the internal and external clients from the config. Path-style
// addressing is forced so minio-style endpoints work unchanged.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.BucketName == "" {
		cfg.BucketName = "conda-store"
	}

	base, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}

	endpoint := func(host string, secure bool) string {
		scheme := "https"
		if !secure {
			scheme = "http"
		}
		return scheme + "://" + host
	}

	internal := s3.NewFromConfig(base, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint(cfg.InternalEndpoint, cfg.InternalSecure))
		o.UsePathStyle = true
	})
	external := s3.NewFromConfig(base, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint(cfg.ExternalEndpoint, cfg.ExternalSecure))
		o.UsePathStyle = true
	})

	return &Storage{
		cfg:      cfg,
		internal: internal,
		presign:  s3.NewPresignClient(external),
	}, nil
}

// Name implements plugins.Plugin.
func (s *Storage) Name() string { return pluginName }

// Synopsis implements plugins.Plugin.
func (s *Storage) Synopsis() string { return "store artifacts in an s3 bucket" }

// checkBucket verifies the bucket exists, once per process.
func (s *Storage) checkBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		log.Debugf("checking s3 bucket %s at endpoint %s", s.cfg.BucketName, s.cfg.InternalEndpoint)
		_, err := s.internal.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(s.cfg.BucketName),
		})
		if err != nil {
			s.bucketErr = &BucketMissing{Bucket: s.cfg.BucketName}
		}
	})
	return s.bucketErr
}

// transient reports whether an S3 error is worth one retry.
func transient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InternalError", "SlowDown", "RequestTimeout":
			return true
		}
		return false
	}
	// Connection-level failures have no API error code.
	return true
}

func (s *Storage) withRetry(op func() error) error {
	return retry.Do(op,
		retry.Attempts(2),
		retry.Delay(250*time.Millisecond),
		retry.RetryIf(transient),
		retry.LastErrorOnly(true),
	)
}

// Set implements plugins.StoragePlugin.
func (s *Storage) Set(ctx context.Context, key string, value []byte, contentType string) error {
	if err := s.checkBucket(ctx); err != nil {
		return err
	}
	return s.withRetry(func() error {
		_, err := s.internal.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.BucketName),
			Key:         aws.String(key),
			Body:        bytes.NewReader(value),
			ContentType: aws.String(contentType),
		})
		return err
	})
}

// FSet implements plugins.StoragePlugin. S3 uploads are atomic per object;
// the file is streamed rather than read into memory.
func (s *Storage) FSet(ctx context.Context, key, filename, contentType string) error {
	if err := s.checkBucket(ctx); err != nil {
		return err
	}
	return s.withRetry(func() error {
		f, err := os.Open(filename)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = s.internal.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.BucketName),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		})
		return err
	})
}

// Get implements plugins.StoragePlugin.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkBucket(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := s.withRetry(func() error {
		out, err := s.internal.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.BucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(out.Body); err != nil {
			return err
		}
		value = buf.Bytes()
		return nil
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("key %q: %w", key, plugins.ErrNotFound)
		}
		return nil, err
	}
	return value, nil
}

// GetURL implements plugins.StoragePlugin, returning a presigned URL on the
// external endpoint.
func (s *Storage) GetURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Delete implements plugins.StoragePlugin.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.checkBucket(ctx); err != nil {
		return err
	}
	return s.withRetry(func() error {
		_, err := s.internal.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.BucketName),
			Key:    aws.String(key),
		})
		return err
	})
}

// ConfigFields implements plugins.TraitConfigPlugin.
func (s *Storage) ConfigFields() []plugins.ConfigField {
	return []plugins.ConfigField{
		{Name: "internal_endpoint", Help: "endpoint for server-side bucket I/O"},
		{Name: "external_endpoint", Help: "endpoint presigned URLs are served from"},
		{Name: "access_key", Help: "s3 access key"},
		{Name: "secret_key", Help: "s3 secret key"},
		{Name: "region", Help: "bucket region", Default: "us-east-1"},
		{Name: "bucket_name", Help: "bucket holding all artifacts", Default: "conda-store"},
		{Name: "internal_secure", Help: "use https on the internal endpoint", Default: true},
		{Name: "external_secure", Help: "use https on the external endpoint", Default: true},
	}
}
