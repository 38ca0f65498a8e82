package citation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

func record(id, title, interviewer, interviewee string) *entity.Metadata {
	return &entity.Metadata{
		DocumentID: id,
		Title:      title,
		Contributors: []entity.Contributor{
			{Name: interviewee, Role: entity.RoleInterviewee},
			{Name: interviewer, Role: entity.RoleInterviewer},
		},
		ProjectName: "Berkeley Campus History",
		CatalogLink: "https://digicoll.lib.berkeley.edu/record/" + id,
	}
}

type lookupCounter struct {
	records map[string]*entity.Metadata
	calls   []string
}

func (l *lookupCounter) Resolve(_ context.Context, id string) (*entity.Metadata, error) {
	l.calls = append(l.calls, id)
	md, ok := l.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return md, nil
}

func TestFormat(t *testing.T) {
	lookup := &lookupCounter{records: map[string]*entity.Metadata{
		"1": record("1", "Oral History of X", "A", "B"),
		"2": record("2", "Oral History of Y", "C", "D"),
	}}

	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{name: "empty", ids: nil, want: NoReferences},
		{name: "blank ids", ids: []string{" ", ""}, want: NoReferences},
		{
			name: "one document",
			ids:  []string{"1"},
			want: "Title: Oral History of X\n" +
				"Contributor: A interviewer\n" +
				"Contributor: B interviewee\n" +
				"Project Name: Berkeley Campus History\n" +
				"Catalogue Link: https://digicoll.lib.berkeley.edu/record/1\n" +
				"___________",
		},
		{
			name: "two documents, duplicates dropped",
			ids:  []string{"2", "1", "2"},
			want: "Title: Oral History of Y\n" +
				"Contributor: C interviewer\n" +
				"Contributor: D interviewee\n" +
				"Project Name: Berkeley Campus History\n" +
				"Catalogue Link: https://digicoll.lib.berkeley.edu/record/2\n" +
				"___________\n" +
				"Title: Oral History of X\n" +
				"Contributor: A interviewer\n" +
				"Contributor: B interviewee\n" +
				"Project Name: Berkeley Campus History\n" +
				"Catalogue Link: https://digicoll.lib.berkeley.edu/record/1\n" +
				"___________",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(context.Background(), tt.ids, lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_TwoBlocksOneSeparatorBetween(t *testing.T) {
	out := FormatEntries([]entity.CitationEntry{
		{DocumentID: "1", Title: "T1", Interviewees: []string{"P"}, CatalogLink: "L1"},
		{DocumentID: "2", Title: "T2", Interviewers: []string{"Q"}, CatalogLink: "L2"},
	})

	lines := strings.Split(out, "\n")
	var seps []int
	for i, l := range lines {
		if l == Separator {
			seps = append(seps, i)
		}
	}
	require.Len(t, seps, 2)
	assert.Equal(t, len(lines)-1, seps[1], "trailing separator after the last block")
	assert.Equal(t, "Title: T2", lines[seps[0]+1])
	assert.Len(t, Separator, 11)
	assert.NotContains(t, out, "Project Name", "empty project names are omitted")
}

func TestFormat_LookupErrorAborts(t *testing.T) {
	lookup := &lookupCounter{records: map[string]*entity.Metadata{"1": record("1", "T", "A", "B")}}

	out, err := Format(context.Background(), []string{"1", "missing", "1"}, lookup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	assert.Empty(t, out)
	assert.Equal(t, []string{"1", "missing"}, lookup.calls)
}

func TestFormatEntries_KeepsLinesIntact(t *testing.T) {
	out := FormatEntries([]entity.CitationEntry{{
		DocumentID:   "9",
		Title:        "Multi\nline   title",
		Interviewers: []string{"  Meeker, Martin ", ""},
		CatalogLink:  "L",
	}})
	assert.Equal(t, "Title: Multi line title\nContributor: Meeker, Martin interviewer\nCatalogue Link: L\n___________", out)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", " b", "a", "", "c", "b"}))
	assert.Empty(t, Dedupe(nil))
}
