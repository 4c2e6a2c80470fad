// Package httputil holds the response helpers and middleware shared by the
// HTTP surface.
//
// Compile errors are written with WriteCompileError, which maps the error
// code to a status and reports it in the details:
//
//	{"error": "...", "message": "Not Found", "details": {"code": "VARIANT_UNKNOWN"}}
//
// Middleware composes with Chain:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
