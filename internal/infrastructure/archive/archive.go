// Package archive reads the transcript storage directory. Each record lives in
// a directory named for its catalog id:
//
//	<root>/
//	    <id>/
//	        <id>.xml     MARCXML export of the catalog record (optional)
//	        *.pdf, *.txt one or more transcript files
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
)

// ErrNoTranscripts is returned for a record directory with no transcript files.
var ErrNoTranscripts = errors.New("no transcripts in record directory")

// Record is one record directory. MARCPath is empty when the directory has
// no <id>.xml.
type Record struct {
	ID          string
	Dir         string
	Transcripts []string
	MARCPath    string
}

// Scan lists the record directories under root in id order. Plain files at
// the top level are ignored.
func Scan(root string) ([]Record, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage dir: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		rec, err := readRecord(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func readRecord(dir string) (Record, error) {
	rec := Record{ID: filepath.Base(dir), Dir: dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rec, fmt.Errorf("failed to read record dir %s: %w", rec.ID, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch ext := strings.ToLower(filepath.Ext(name)); {
		case ext == ".pdf" || ext == ".txt":
			rec.Transcripts = append(rec.Transcripts, filepath.Join(dir, name))
		case ext == ".xml" && strings.TrimSuffix(name, filepath.Ext(name)) == rec.ID:
			rec.MARCPath = filepath.Join(dir, name)
		}
	}
	sort.Strings(rec.Transcripts)
	return rec, nil
}

// Content reads every transcript of the record as text, extracting PDFs with
// x, and joins them in file name order.
func (r Record) Content(ctx context.Context, x ingest.TextExtractor) ([]byte, error) {
	if len(r.Transcripts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTranscripts, r.ID)
	}

	parts := make([]string, 0, len(r.Transcripts))
	for _, path := range r.Transcripts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if !ingest.IsPDF(b) {
			parts = append(parts, string(b))
			continue
		}
		if x == nil {
			return nil, fmt.Errorf("%w: %s is a pdf", ingest.ErrUnsupportedContent, filepath.Base(path))
		}
		text, err := x.Extract(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
		}
		parts = append(parts, text)
	}
	return []byte(strings.Join(parts, "\n\n")), nil
}

// MARC returns the record's MARCXML export, or nil when there is none.
func (r Record) MARC() ([]byte, error) {
	if r.MARCPath == "" {
		return nil, nil
	}
	b, err := os.ReadFile(r.MARCPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.MARCPath, err)
	}
	return b, nil
}
