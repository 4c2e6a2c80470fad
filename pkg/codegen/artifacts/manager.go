// Package artifacts mirrors freshly compiled artifacts to S3 so that a CDN or
// another environment can serve them without compiling.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
)

var tracer = otel.Tracer("canopy/codegen/artifacts")

// ETagMetadataKey holds the artifact etag in object metadata
const ETagMetadataKey = "canopy-etag"

// S3Mirror publishes compiled artifacts and their assets to a bucket under
// "<prefix>/<variant>/<module>"
type S3Mirror struct {
	client S3API
	config *Config
}

// NewS3Mirror loads AWS configuration and creates a mirror
func NewS3Mirror(ctx context.Context, cfg *Config) (*S3Mirror, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.S3Bucket == "" {
		return nil, ErrBucketRequired
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
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
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return NewMirror(client, cfg), nil
}

// NewMirror creates a mirror on top of an existing client
func NewMirror(client S3API, cfg *Config) *S3Mirror {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &S3Mirror{client: client, config: cfg}
}

// Key returns the object key of a compiled module
func (m *S3Mirror) Key(variantID, modulePath string) string {
	return path.Join(strings.Trim(m.config.S3Prefix, "/"), variantID, strings.TrimPrefix(modulePath, "/"))
}

// Publish uploads the compiled module and every asset next to it
func (m *S3Mirror) Publish(ctx context.Context, variantID, modulePath string, a *codegen.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}

	key := m.Key(variantID, modulePath)
	ctx, span := tracer.Start(ctx, "S3Mirror.Publish",
		trace.WithAttributes(
			attribute.String("s3.bucket", m.config.S3Bucket),
			attribute.String("s3.key", key),
			attribute.String("canopy.variant", variantID),
			attribute.Int("canopy.assets", len(a.Assets)),
		),
	)
	defer span.End()

	if err := m.put(ctx, key, a.ContentType, a.Compiled); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload artifact")
		return err
	}
	for i, asset := range a.Assets {
		assetKey := key + cache.AssetDirSuffix + "/" + filepath.Base(asset)
		if err := m.put(ctx, assetKey, contentTypeFor(asset), a.AssetsContent[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to upload asset")
			return err
		}
	}

	span.SetStatus(codes.Ok, "artifact mirrored")
	return nil
}

// Remove deletes a mirrored module. Assets are left to bucket lifecycle rules.
func (m *S3Mirror) Remove(ctx context.Context, variantID, modulePath string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.config.S3Bucket),
		Key:    aws.String(m.Key(variantID, modulePath)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// Exists reports whether a module is mirrored
func (m *S3Mirror) Exists(ctx context.Context, variantID, modulePath string) (bool, error) {
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.config.S3Bucket),
		Key:    aws.String(m.Key(variantID, modulePath)),
	})
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to head object: %w", err)
	}
	return true, nil
}

func (m *S3Mirror) put(ctx context.Context, key, contentType string, content []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.config.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			ETagMetadataKey: cache.ETag(content),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, err)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".map"), strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".js"):
		return "application/javascript"
	default:
		return "application/octet-stream"
	}
}
