package httputil

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/canopy/pkg/codegen"
)

var statuses = map[string]int{
	codegen.CodeInvalidArgument:            http.StatusBadRequest,
	codegen.CodeVariantUnknown:             http.StatusNotFound,
	codegen.CodeSourceNotFound:             http.StatusNotFound,
	codegen.CodeArtifactNotFound:           http.StatusNotFound,
	codegen.CodeAssetFileNotFound:          http.StatusInternalServerError,
	codegen.CodeTransformFailure:           http.StatusInternalServerError,
	codegen.CodeTransformContractViolation: http.StatusInternalServerError,
	codegen.CodeLockTimeout:                http.StatusServiceUnavailable,
}

// StatusFor maps a compile error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	if status, ok := statuses[codegen.ErrorCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteCompileError writes a compile error with its code and, for transform
// failures, the source location
func WriteCompileError(w http.ResponseWriter, err error) {
	code := codegen.ErrorCode(err)
	details := map[string]string{"code": code}

	var terr *codegen.TransformError
	if errors.As(err, &terr) {
		if terr.File != "" {
			details["file"] = terr.File
		}
		if terr.Line > 0 {
			details["line"] = strconv.Itoa(terr.Line)
			details["column"] = strconv.Itoa(terr.Column)
		}
	}

	status := StatusFor(err)
	message := http.StatusText(status)
	if code == codegen.CodeInternal {
		// internal errors may carry filesystem detail
		WriteDetailedError(w, status, errors.New("internal error"), message, details)
		return
	}
	WriteDetailedError(w, status, err, message, details)
}
