// Package api serves compiled modules over HTTP.
//
// Requests under the output prefix are resolved to a compile variant and
// compiled on demand:
//
//	GET /.canopy/out/best/src/app.js
//
// The response carries the artifact with ETag and Last-Modified validators,
// the compile status in X-Canopy-Compile and per-phase durations in
// Server-Timing. A request whose If-None-Match or If-Modified-Since matches
// the cached artifact gets 304.
//
// The server also exposes the group map at /.canopy/groups.json, probes at
// /healthz and /readyz and Prometheus metrics at /metrics. Any other path is
// a static file of the project root.
package api
