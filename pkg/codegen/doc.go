// Package codegen holds the types shared by the on-demand compilation pipeline.
//
// # Overview
//
// A request for a compiled module names a variant and a module path. The
// orchestrator (pkg/codegen/orchestrator) validates any cached artifact for that
// pair, takes the per-artifact lock when it has to rebuild, runs the configured
// Transformer and writes the artifact plus its cache descriptor.
//
// The subpackages are:
//
//	orchestrator  compile flow, cache conditions, timing
//	cache         descriptor store (memory LRU + filesystem) and etags
//	lock          in-process queue plus file or Redis cross-process lock
//	cleanup       cron-driven removal of artifacts nobody asked for lately
//	artifacts     optional S3 mirror of written artifacts
//
// # Transformers
//
// A Transformer receives the original source, the absolute source and compiled
// paths and the capability transforms the variant requires. It returns an
// Artifact:
//
//	artifact := &codegen.Artifact{
//		ContentType:    "text/javascript",
//		Compiled:       out,
//		Sources:        []string{input.SourcePath},
//		SourcesContent: [][]byte{input.Source},
//	}
//
// Artifact.Validate enforces the contract. A violation is reported as
// ErrTransformContractViolation, a failure inside the transformer as *TransformError.
//
// # Errors
//
// Every failure maps to one stable code through ErrorCode:
//
//	switch codegen.ErrorCode(err) {
//	case codegen.CodeLockTimeout:
//		// retry later
//	}
//
// # Timing
//
// Timing records the duration of each compile phase in the order they ran.
// The HTTP layer renders it as a Server-Timing header and the CLI prints it
// after each module.
package codegen
