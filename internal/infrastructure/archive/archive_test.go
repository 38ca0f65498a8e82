package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
)

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, []byte) (string, error) {
	return s.text, s.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "218", "218.xml"), "<record/>")
	writeFile(t, filepath.Join(root, "218", "part2.pdf"), "%PDF-1.4 two")
	writeFile(t, filepath.Join(root, "218", "part1.PDF"), "%PDF-1.4 one")
	writeFile(t, filepath.Join(root, "218", "218.json"), "{}")
	writeFile(t, filepath.Join(root, "103", "notes.txt"), "plain transcript")
	writeFile(t, filepath.Join(root, "103", "other.xml"), "<record/>")
	writeFile(t, filepath.Join(root, "empty", "README"), "")
	writeFile(t, filepath.Join(root, "stray.pdf"), "%PDF-1.4")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))

	recs, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "103", recs[0].ID)
	assert.Equal(t, []string{filepath.Join(root, "103", "notes.txt")}, recs[0].Transcripts)
	assert.Empty(t, recs[0].MARCPath)

	assert.Equal(t, "218", recs[1].ID)
	assert.Equal(t, []string{
		filepath.Join(root, "218", "part1.PDF"),
		filepath.Join(root, "218", "part2.pdf"),
	}, recs[1].Transcripts)
	assert.Equal(t, filepath.Join(root, "218", "218.xml"), recs[1].MARCPath)

	assert.Equal(t, "empty", recs[2].ID)
	assert.Empty(t, recs[2].Transcripts)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestRecord_Content(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "7", "a.txt"), "first part")
	writeFile(t, filepath.Join(root, "7", "b.pdf"), "%PDF-1.4 binary")

	recs, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]

	t.Run("joins text and extracted pdfs in order", func(t *testing.T) {
		b, err := rec.Content(ctx, stubExtractor{text: "second part"})
		require.NoError(t, err)
		assert.Equal(t, "first part\n\nsecond part", string(b))
	})

	t.Run("pdf without an extractor", func(t *testing.T) {
		_, err := rec.Content(ctx, nil)
		assert.ErrorIs(t, err, ingest.ErrUnsupportedContent)
	})

	t.Run("extractor failure", func(t *testing.T) {
		_, err := rec.Content(ctx, stubExtractor{err: errors.New("pdftotext failed")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "b.pdf")
	})

	t.Run("no transcripts", func(t *testing.T) {
		_, err := Record{ID: "9"}.Content(ctx, nil)
		assert.ErrorIs(t, err, ErrNoTranscripts)
	})
}

func TestRecord_MARC(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "5", "5.xml"), "<record/>")

	b, err := Record{ID: "5", MARCPath: filepath.Join(root, "5", "5.xml")}.MARC()
	require.NoError(t, err)
	assert.Equal(t, "<record/>", string(b))

	b, err = Record{ID: "6"}.MARC()
	require.NoError(t, err)
	assert.Nil(t, b)
}
