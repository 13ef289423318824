// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package hosting uploads rendered images to an S3-compatible object store
// (Cloudflare R2 in production) and returns the public URL served through
// the CDN domain.
package hosting

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kurasell/image-translator/internal/imageutil"
)

// cacheControl marks uploads as immutable for a year; keys embed the
// request id so re-translations never collide.
const cacheControl = "public, max-age=31536000, immutable"

// Uploader stores an encoded image under a key and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, img image.Image, key string, quality int, metadata map[string]string) (string, error)
}

// R2 implements Uploader on the aws-sdk-go-v2 S3 client.
type R2 struct {
	client *s3.Client
	bucket string
	domain string
}

// R2Config carries the object store settings from the environment.
type R2Config struct {
	Endpoint  string
	Bucket    string
	Domain    string
	AccessKey string
	SecretKey string
}

// NewR2 builds the S3 client against the R2 endpoint. R2 ignores the
// region but the SDK requires one.
func NewR2(ctx context.Context, cfg R2Config) (*R2, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &R2{client: client, bucket: cfg.Bucket, domain: strings.TrimRight(cfg.Domain, "/")}, nil
}

// Upload implements Uploader: JPEG-encode, put, return the CDN URL.
func (r *R2) Upload(ctx context.Context, img image.Image, key string, quality int, metadata map[string]string) (string, error) {
	data, err := imageutil.EncodeJPEG(img, quality)
	if err != nil {
		return "", err
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(r.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("image/jpeg"),
		CacheControl: aws.String(cacheControl),
		Metadata:     metadata,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", r.domain, key), nil
}
