package transform

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/canopy/pkg/codegen"
)

var contentTypes = map[string]string{
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".cjs":  "application/javascript",
	".jsx":  "application/javascript",
	".ts":   "application/javascript",
	".tsx":  "application/javascript",
	".json": "application/json",
	".map":  "application/json",
	".css":  "text/css",
	".html": "text/html",
}

// ContentType guesses a content type from a file name
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Passthrough returns every source unchanged
type Passthrough struct{}

// NewPassthrough creates a passthrough transformer
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Transform implements codegen.Transformer
func (p *Passthrough) Transform(ctx context.Context, in *codegen.TransformInput) (*codegen.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled := append([]byte{}, in.Source...)
	return &codegen.Artifact{
		ContentType:    ContentType(in.SourcePath),
		Compiled:       compiled,
		Sources:        []string{in.SourcePath},
		SourcesContent: [][]byte{in.Source},
	}, nil
}
