package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/livinlefevreloca/mjlogconv/internal/db"
)

// S3Config configures the S3 artifact sink
type S3Config struct {
	// Bucket receives the artifacts
	Bucket string `toml:"bucket"`

	// Prefix is prepended to every object key (e.g., "logs/2024/")
	Prefix string `toml:"prefix"`

	// Region is the AWS region
	Region string `toml:"region"`

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string `toml:"endpoint"`

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool `toml:"use_path_style"`

	// Timeout for each S3 request
	Timeout time.Duration `toml:"timeout"`
}

// DefaultS3Config returns sensible defaults
func DefaultS3Config() S3Config {
	return S3Config{
		Prefix:  "logs/",
		Timeout: 30 * time.Second,
	}
}

// ObjectAPI is the subset of the S3 client the sink uses
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Sink writes artifacts as objects in a bucket
type S3Sink struct {
	cfg    S3Config
	client ObjectAPI
}

// NewS3Sink loads AWS configuration and creates the client
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3SinkWithClient(client, cfg), nil
}

// NewS3SinkWithClient wraps an existing client
func NewS3SinkWithClient(client ObjectAPI, cfg S3Config) *S3Sink {
	return &S3Sink{cfg: cfg, client: client}
}

// Name identifies the sink in logs
func (s *S3Sink) Name() string {
	return "s3://" + s.cfg.Bucket + "/" + s.cfg.Prefix
}

// Key returns the object key for id
func (s *S3Sink) Key(id string) (string, error) {
	if err := db.ValidateID(id); err != nil {
		return "", err
	}
	return s.cfg.Prefix + id + ArtifactExt, nil
}

// Write uploads the artifact, replacing any previous object
func (s *S3Sink) Write(ctx context.Context, id string, data []byte) error {
	key, err := s.Key(id)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", id, err)
	}
	return nil
}

// Size returns the object size in bytes
func (s *S3Sink) Size(ctx context.Context, id string) (int64, error) {
	key, err := s.Key(id)
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to stat artifact %s: %w", id, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Remove deletes the object
func (s *S3Sink) Remove(ctx context.Context, id string) error {
	key, err := s.Key(id)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to remove artifact %s: %w", id, err)
	}
	return nil
}

func (s *S3Sink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}
