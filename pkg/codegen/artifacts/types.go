package artifacts

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the mirror needs
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds artifact mirror configuration
type Config struct {
	S3Bucket string
	S3Prefix string
	S3Region string

	// S3Endpoint targets an S3 compatible store such as MinIO
	S3Endpoint     string
	S3UsePathStyle bool

	// Static credentials; empty uses the default AWS credential chain
	AccessKeyID     string
	SecretAccessKey string
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		S3Prefix: "compiled",
		S3Region: "us-east-1",
	}
}
