package httputil

import (
	"net/http"
	"strings"
	"time"
)

// IfNoneMatch returns the If-None-Match header, trimmed
func IfNoneMatch(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("If-None-Match"))
}

// IfModifiedSince parses the If-Modified-Since header. A missing or malformed
// header yields the zero time; If-None-Match takes precedence when both are
// sent.
func IfModifiedSince(r *http.Request) time.Time {
	if IfNoneMatch(r) != "" {
		return time.Time{}
	}
	v := r.Header.Get("If-Modified-Since")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
