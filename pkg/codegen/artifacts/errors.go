package artifacts

import "errors"

var (
	// ErrUploadFailed is returned when upload fails
	ErrUploadFailed = errors.New("upload failed")

	// ErrDeleteFailed is returned when delete fails
	ErrDeleteFailed = errors.New("delete failed")

	// ErrBucketRequired is returned when no bucket is configured
	ErrBucketRequired = errors.New("s3 bucket is required")
)
