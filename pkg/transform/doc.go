// Package transform provides the Transformer implementations the server and
// CLI can be configured with.
//
// Passthrough serves sources unchanged and is meant for development and
// tests. Command delegates to an external executable that speaks a small JSON
// protocol:
//
//	stdin:  the module source
//	env:    CANOPY_SOURCE_PATH, CANOPY_COMPILED_PATH, CANOPY_VARIANT,
//	        CANOPY_CAPABILITIES (comma separated)
//	stdout: {"contentType": "...", "compiled": "...",
//	         "sources": [{"path": "...", "content": "..."}],
//	         "assets":  [{"path": "...", "content": "..."}]}
//	    or: {"error": {"message": "...", "file": "...", "line": 1, "column": 1}}
//
// Relative paths are resolved against the directory of the source. A source
// entry without content is read from disk.
package transform
