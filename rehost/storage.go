package rehost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Storage is the rehost target.
type Storage interface {
	// Put uploads body under key and returns its public URL.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	// Owns reports whether rawURL already points into this storage.
	Owns(rawURL string) bool
}

// S3Config describes an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// PublicBaseURL overrides the URL prefix of uploaded objects (CDN).
	PublicBaseURL string
}

// S3Storage uploads objects with the AWS SDK.
type S3Storage struct {
	client *s3.Client
	bucket string
	base   string
}

// NewS3Storage builds the client. Static credentials are used when given,
// the default AWS chain otherwise. httpClient may be nil.
func NewS3Storage(ctx context.Context, cfg S3Config, httpClient *http.Client) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// MinIO 等兼容服务通常只支持 path style
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		base:   publicBase(cfg, region, endpoint),
	}, nil
}

func publicBase(cfg S3Config, region, endpoint string) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case endpoint != "":
		return endpoint + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
	}
}

// Put implements Storage.
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public URL of key.
func (s *S3Storage) URL(key string) string {
	return s.base + "/" + key
}

// Owns implements Storage.
func (s *S3Storage) Owns(rawURL string) bool {
	return strings.HasPrefix(rawURL, s.base+"/")
}
