package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/digkill/storybook/internal/config"
)

// Kind names the bucket an asset key lives in.
type Kind string

const (
	KindOriginalImage Kind = "original-image"
	KindVideo         Kind = "video"
	KindPageImage     Kind = "page-image"
	KindEbook         Kind = "ebook"
)

const defaultTTL = time.Hour

// Signer issues short-lived GET URLs for private objects. URLs are generated on
// every call and never cached.
type Signer struct {
	presign *s3.PresignClient
	buckets map[Kind]string
	ttl     time.Duration
}

func NewSigner(cfg config.S3Config) (*Signer, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Signer{
		presign: s3.NewPresignClient(s3.New(options)),
		buckets: map[Kind]string{
			KindOriginalImage: cfg.ImagesBucket,
			KindVideo:         cfg.VideosBucket,
			KindPageImage:     cfg.PagesBucket,
			KindEbook:         cfg.EbooksBucket,
		},
		ttl: ttl,
	}, nil
}

// SignURL returns a presigned GET URL for key. An empty key yields an empty URL.
func (s *Signer) SignURL(ctx context.Context, kind Kind, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	bucket, ok := s.buckets[kind]
	if !ok || bucket == "" {
		return "", fmt.Errorf("no bucket configured for %s", kind)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
