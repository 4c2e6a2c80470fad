package codegen

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed configuration or request shape
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrVariantUnknown is returned when a variant id is not in the group map
	ErrVariantUnknown = errors.New("variant unknown")

	// ErrSourceNotFound marks a tracked source that no longer exists
	ErrSourceNotFound = errors.New("source not found")

	// ErrAssetFileNotFound marks a tracked asset that no longer exists
	ErrAssetFileNotFound = errors.New("asset file not found")

	// ErrArtifactNotFound marks a compiled artifact that no longer exists
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrTransformContractViolation is returned when a Transformer result is malformed
	ErrTransformContractViolation = errors.New("transform contract violation")

	// ErrTransformFailure is returned when the Transformer rejects the source
	ErrTransformFailure = errors.New("transform failure")

	// ErrLockTimeout is returned when a cross-process lock could not be acquired
	ErrLockTimeout = errors.New("lock timeout")
)

// Error codes as reported to clients and logs
const (
	CodeInvalidArgument            = "INVALID_ARGUMENT"
	CodeVariantUnknown             = "VARIANT_UNKNOWN"
	CodeSourceNotFound             = "SOURCE_NOT_FOUND"
	CodeAssetFileNotFound          = "ASSET_FILE_NOT_FOUND"
	CodeArtifactNotFound           = "ARTIFACT_NOT_FOUND"
	CodeTransformContractViolation = "TRANSFORM_CONTRACT_VIOLATION"
	CodeTransformFailure           = "TRANSFORM_FAILURE"
	CodeLockTimeout                = "LOCK_TIMEOUT"
	CodeInternal                   = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrVariantUnknown, CodeVariantUnknown},
	{ErrSourceNotFound, CodeSourceNotFound},
	{ErrAssetFileNotFound, CodeAssetFileNotFound},
	{ErrArtifactNotFound, CodeArtifactNotFound},
	{ErrTransformContractViolation, CodeTransformContractViolation},
	{ErrTransformFailure, CodeTransformFailure},
	{ErrLockTimeout, CodeLockTimeout},
}

// ErrorCode maps an error to its code. Unknown errors map to INTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// TransformError carries the structured detail of a transform failure, such as
// a syntax error in the source.
type TransformError struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (e *TransformError) Error() string {
	if e.File == "" {
		return e.Message
	}
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// Unwrap lets errors.Is match ErrTransformFailure
func (e *TransformError) Unwrap() error {
	return ErrTransformFailure
}

// Location formats file:line:column, or "" when unknown
func (e *TransformError) Location() string {
	if e.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
}
