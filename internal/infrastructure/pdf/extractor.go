// Package pdf extracts transcript text from PDF files with poppler's pdftotext.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
)

var tracer = otel.Tracer("pdf")

const defaultTool = "pdftotext"

// ErrToolNotFound is returned when the pdftotext binary cannot be found.
var ErrToolNotFound = errors.New("pdftotext not found: " + InstallInstructions())

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

type Extractor struct {
	tool   string
	runner CommandRunner
}

var _ ingest.TextExtractor = (*Extractor)(nil)

type Option func(*Extractor)

// WithTool sets the pdftotext binary, by name or path.
func WithTool(path string) Option {
	return func(e *Extractor) {
		if path != "" {
			e.tool = path
		}
	}
}

func WithRunner(r CommandRunner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{tool: defaultTool, runner: ExecRunner{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract writes content to a temporary file and returns its text, one
// document with page breaks turned into newlines.
func (e *Extractor) Extract(ctx context.Context, content []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "pdf.Extract")
	defer span.End()
	span.SetAttributes(attribute.Int("pdf.bytes", len(content)))

	f, err := os.CreateTemp("", "willa-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	out, err := e.runner.Run(ctx, e.tool, "-enc", "UTF-8", "-eol", "unix", f.Name(), "-")
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrToolNotFound
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return strings.ReplaceAll(string(out), "\f", "\n"), nil
}

// CheckAvailable reports whether the configured binary is on PATH.
func (e *Extractor) CheckAvailable() error {
	if _, err := exec.LookPath(e.tool); err != nil {
		return ErrToolNotFound
	}
	return nil
}

func InstallInstructions() string {
	return "install poppler (brew install poppler, apt install poppler-utils)"
}
