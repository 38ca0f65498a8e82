// Package citation renders the reference block returned with every answer.
//
// The format is line oriented and consumed by an external renderer:
//
//	Title: <title>
//	Contributor: <name> interviewer
//	Contributor: <name> interviewee
//	Project Name: <project>
//	Catalogue Link: <link>
//	___________
//
// One block per document, each followed by the separator line. No documents
// renders as the NoReferences sentinel.
package citation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

const (
	// NoReferences is returned when an answer cites nothing.
	NoReferences = "no references supplied"
	// Separator ends every block.
	Separator = "___________"
)

// MetadataLookup resolves a document id; catalog.Resolver satisfies it.
type MetadataLookup interface {
	Resolve(ctx context.Context, documentID string) (*entity.Metadata, error)
}

// Format resolves each distinct id in order and renders the blocks. The first
// lookup error aborts formatting so that nothing is cited without metadata.
func Format(ctx context.Context, documentIDs []string, lookup MetadataLookup) (string, error) {
	block, err := Resolve(ctx, documentIDs, lookup)
	if err != nil {
		return "", err
	}
	return FormatEntries(block), nil
}

// Resolve builds the citation block for documentIDs, dropping duplicates.
func Resolve(ctx context.Context, documentIDs []string, lookup MetadataLookup) (entity.CitationBlock, error) {
	ids := Dedupe(documentIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if lookup == nil {
		return nil, fmt.Errorf("no metadata lookup configured")
	}
	out := make(entity.CitationBlock, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		md, err := lookup.Resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve citation for %s: %w", id, err)
		}
		out = append(out, entity.NewCitationEntry(md))
	}
	return out, nil
}

// FormatEntries renders already resolved entries.
func FormatEntries(entries []entity.CitationEntry) string {
	if len(entries) == 0 {
		return NoReferences
	}
	var b strings.Builder
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.DocumentID != "" {
			if seen[e.DocumentID] {
				continue
			}
			seen[e.DocumentID] = true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		writeEntry(&b, e)
	}
	return b.String()
}

func writeEntry(b *strings.Builder, e entity.CitationEntry) {
	line(b, "Title", e.Title)
	for _, name := range e.Interviewers {
		contributor(b, name, entity.RoleInterviewer)
	}
	for _, name := range e.Interviewees {
		contributor(b, name, entity.RoleInterviewee)
	}
	if p := oneLine(e.ProjectName); p != "" {
		line(b, "Project Name", p)
	}
	line(b, "Catalogue Link", e.CatalogLink)
	b.WriteString(Separator)
}

func line(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(oneLine(value))
	b.WriteByte('\n')
}

func contributor(b *strings.Builder, name string, role entity.ContributorRole) {
	name = oneLine(name)
	if name == "" {
		return
	}
	line(b, "Contributor", name+" "+string(role))
}

// oneLine keeps a value from breaking the line protocol.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Dedupe drops blank and repeated ids, keeping first occurrences in order.
func Dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
