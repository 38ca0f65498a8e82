package pdf

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner stands in for pdftotext and remembers what it was asked.
type recordingRunner struct {
	output []byte
	err    error

	name  string
	args  []string
	input []byte
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.name = name
	r.args = args
	if len(args) >= 2 {
		r.input, _ = os.ReadFile(args[len(args)-2])
	}
	return r.output, r.err
}

func TestExtract(t *testing.T) {
	pdfBytes := []byte("%PDF-1.4 fake pdf content")

	t.Run("returns text with page breaks as newlines", func(t *testing.T) {
		runner := &recordingRunner{output: []byte("Page one\fPage two\n")}
		x := New(WithRunner(runner))

		text, err := x.Extract(context.Background(), pdfBytes)
		require.NoError(t, err)
		assert.Equal(t, "Page one\nPage two\n", text)
		assert.Equal(t, "pdftotext", runner.name)
		assert.Equal(t, []string{"-enc", "UTF-8", "-eol", "unix"}, runner.args[:4])
		assert.Equal(t, "-", runner.args[len(runner.args)-1])
		assert.Equal(t, pdfBytes, runner.input)
	})

	t.Run("removes the temp file", func(t *testing.T) {
		runner := &recordingRunner{output: []byte("text")}
		_, err := New(WithRunner(runner)).Extract(context.Background(), pdfBytes)
		require.NoError(t, err)

		_, statErr := os.Stat(runner.args[len(runner.args)-2])
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("uses the configured tool", func(t *testing.T) {
		runner := &recordingRunner{output: []byte("text")}
		_, err := New(WithTool("/opt/poppler/bin/pdftotext"), WithRunner(runner)).Extract(context.Background(), pdfBytes)
		require.NoError(t, err)
		assert.Equal(t, "/opt/poppler/bin/pdftotext", runner.name)
	})

	t.Run("runner failure", func(t *testing.T) {
		runner := &recordingRunner{err: errors.New("pdftotext crashed")}
		_, err := New(WithRunner(runner)).Extract(context.Background(), pdfBytes)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pdftotext failed")
	})

	t.Run("missing binary", func(t *testing.T) {
		runner := &recordingRunner{err: &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}}
		_, err := New(WithRunner(runner)).Extract(context.Background(), pdfBytes)
		assert.ErrorIs(t, err, ErrToolNotFound)
	})
}

func TestCheckAvailable(t *testing.T) {
	err := New(WithTool("willa-no-such-pdftotext")).CheckAvailable()
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestErrToolNotFound(t *testing.T) {
	assert.Contains(t, ErrToolNotFound.Error(), "pdftotext")
	assert.Contains(t, InstallInstructions(), "poppler-utils")
}
