package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/observability"
)

var tracer = otel.Tracer("canopy/transform")

// Environment variables passed to the command
const (
	EnvSourcePath   = "CANOPY_SOURCE_PATH"
	EnvCompiledPath = "CANOPY_COMPILED_PATH"
	EnvVariant      = "CANOPY_VARIANT"
	EnvCapabilities = "CANOPY_CAPABILITIES"
)

// maxStderr caps how much stderr ends up in an error message
const maxStderr = 4096

type file struct {
	Path    string  `json:"path"`
	Content *string `json:"content,omitempty"`
}

type output struct {
	ContentType string                  `json:"contentType"`
	Compiled    *string                 `json:"compiled"`
	Sources     []file                  `json:"sources"`
	Assets      []file                  `json:"assets"`
	Error       *codegen.TransformError `json:"error"`
}

// Command runs an external executable once per module
type Command struct {
	Path string
	Args []string
	// Env is appended to the current environment
	Env    []string
	Logger *observability.Logger
}

// NewCommand creates a command transformer
func NewCommand(path string, args []string, logger *observability.Logger) (*Command, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: transformer command is required", codegen.ErrInvalidArgument)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	return &Command{Path: path, Args: args, Logger: logger}, nil
}

// Transform implements codegen.Transformer
func (c *Command) Transform(ctx context.Context, in *codegen.TransformInput) (*codegen.Artifact, error) {
	ctx, span := tracer.Start(ctx, "Command.Transform",
		trace.WithAttributes(
			attribute.String("canopy.command", c.Path),
			attribute.String("canopy.source", in.SourcePath),
		),
	)
	defer span.End()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = filepath.Dir(in.SourcePath)
	cmd.Stdin = bytes.NewReader(in.Source)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env,
		EnvSourcePath+"="+in.SourcePath,
		EnvCompiledPath+"="+in.CompiledPath,
		EnvVariant+"="+in.VariantID,
		EnvCapabilities+"="+strings.Join(in.Capabilities, ","),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stderr.Len() > 0 {
		c.Logger.WithFields(map[string]interface{}{
			"source": in.SourcePath,
			"stderr": truncate(stderr.String()),
		}).Debug("Transformer wrote to stderr")
	}

	var out output
	decodeErr := json.Unmarshal(stdout.Bytes(), &out)
	if decodeErr == nil && out.Error != nil {
		terr := out.Error
		if terr.File == "" {
			terr.File = in.SourcePath
		}
		span.RecordError(terr)
		span.SetStatus(codes.Error, "transform rejected source")
		return nil, terr
	}
	if runErr != nil {
		msg := strings.TrimSpace(truncate(stderr.String()))
		if msg == "" {
			msg = runErr.Error()
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "transformer failed")
		return nil, &codegen.TransformError{Message: msg, File: in.SourcePath}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: transformer output is not JSON: %v", codegen.ErrTransformContractViolation, decodeErr)
	}
	if out.Compiled == nil {
		return nil, fmt.Errorf("%w: transformer output has no compiled content", codegen.ErrTransformContractViolation)
	}

	dir := filepath.Dir(in.SourcePath)
	a := &codegen.Artifact{
		ContentType: out.ContentType,
		Compiled:    []byte(*out.Compiled),
	}
	if a.ContentType == "" {
		a.ContentType = ContentType(in.SourcePath)
	}
	for _, f := range out.Sources {
		p := resolve(dir, f.Path)
		content, err := contentOf(f, p)
		if err != nil {
			return nil, err
		}
		a.Sources = append(a.Sources, p)
		a.SourcesContent = append(a.SourcesContent, content)
	}
	for _, f := range out.Assets {
		if f.Content == nil {
			return nil, fmt.Errorf("%w: asset %s has no content", codegen.ErrTransformContractViolation, f.Path)
		}
		a.Assets = append(a.Assets, resolve(dir, f.Path))
		a.AssetsContent = append(a.AssetsContent, []byte(*f.Content))
	}
	span.SetStatus(codes.Ok, "")
	return a, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, filepath.FromSlash(p))
}

// contentOf returns inline content, or reads the file. A source that does
// not exist yields empty content; the cache store drops it on write.
func contentOf(f file, path string) ([]byte, error) {
	if f.Content != nil {
		return []byte(*f.Content), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", path, err)
	}
	return data, nil
}

func truncate(s string) string {
	if len(s) <= maxStderr {
		return s
	}
	return s[:maxStderr]
}
