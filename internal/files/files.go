// Package files checks references to uploaded files before a workflow
// records them.
package files

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kampus.org/internal/errs"
)

var tracer = otel.Tracer("kampus.org/internal/files")

// Verifier confirms that a file reference points to an existing object.
// A missing object is an errs.ErrValidation; lookup failures are retryable.
type Verifier interface {
	Verify(ctx context.Context, ref string) error
}

// Presence accepts any non-empty reference. It is used when no object store
// is configured.
type Presence struct{}

func (Presence) Verify(_ context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return errs.Validation("file reference is required")
	}
	return nil
}

// S3Config selects the bucket and endpoint of the object store.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
	MaxAttempts  int    `yaml:"max_attempts"`
}

// S3 verifies references with HeadObject.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds an S3 verifier. Static keys are used when both are set,
// otherwise the default credential chain applies.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("files: bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("files: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.MaxAttempts > 0 {
			o.RetryMaxAttempts = cfg.MaxAttempts
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Verify accepts "s3://<bucket>/<key>" for the configured bucket or a bare key.
func (v *S3) Verify(ctx context.Context, ref string) error {
	key, err := v.key(ref)
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "S3.HeadObject", trace.WithAttributes(
		attribute.String("s3.bucket", v.bucket),
		attribute.String("s3.key", key),
	))
	defer span.End()

	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		span.SetAttributes(attribute.Bool("s3.found", false))
		return errs.Validation("file %q does not exist", ref)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "head object failed")
	return errs.Unavailable(fmt.Errorf("head object %s: %w", key, err))
}

func (v *S3) key(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errs.Validation("file reference is required")
	}
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return strings.TrimPrefix(ref, "/"), nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket != v.bucket {
		return "", errs.Validation("file %q is outside bucket %s", ref, v.bucket)
	}
	if key == "" {
		return "", errs.Validation("file reference %q has no key", ref)
	}
	return key, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
