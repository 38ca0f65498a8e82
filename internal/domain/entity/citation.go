package entity

// CitationEntry is the reference rendered for one source document.
type CitationEntry struct {
	DocumentID   string   `json:"document_id"`
	Title        string   `json:"title"`
	Interviewers []string `json:"interviewers"`
	Interviewees []string `json:"interviewees"`
	ProjectName  string   `json:"project_name"`
	CatalogLink  string   `json:"catalog_link"`
}

// CitationBlock lists the documents an answer drew on, in reference order.
// It is derived for each turn and never stored.
type CitationBlock []CitationEntry

// NewCitationEntry copies the citable fields out of md.
func NewCitationEntry(md *Metadata) CitationEntry {
	if md == nil {
		return CitationEntry{}
	}
	return CitationEntry{
		DocumentID:   md.DocumentID,
		Title:        md.Title,
		Interviewers: md.Interviewers(),
		Interviewees: md.Interviewees(),
		ProjectName:  md.ProjectName,
		CatalogLink:  md.CatalogLink,
	}
}
