// Package entity defines the domain types shared across willa.
package entity

import (
	"fmt"
	"strings"
)

// ContributorRole is the part a person played in an oral-history interview.
type ContributorRole string

const (
	RoleInterviewer ContributorRole = "interviewer"
	RoleInterviewee ContributorRole = "interviewee"
)

// ParseContributorRole maps a catalog relator term to a role. Matching ignores
// case, surrounding whitespace and trailing punctuation ("Interviewer.").
func ParseContributorRole(s string) (ContributorRole, error) {
	r := strings.ToLower(strings.TrimSpace(s))
	r = strings.TrimRight(r, ".,;: ")
	switch ContributorRole(r) {
	case RoleInterviewer, RoleInterviewee:
		return ContributorRole(r), nil
	default:
		return "", fmt.Errorf("unknown contributor role %q", s)
	}
}

func (r ContributorRole) Valid() bool {
	return r == RoleInterviewer || r == RoleInterviewee
}

// Contributor is a named person with exactly one role.
type Contributor struct {
	Name string          `json:"name"`
	Role ContributorRole `json:"role"`
}

// Metadata is the catalog description of an archived interview.
type Metadata struct {
	DocumentID   string        `json:"document_id"`
	Title        string        `json:"title"`
	Contributors []Contributor `json:"contributors"`
	ProjectName  string        `json:"project_name"`
	CatalogLink  string        `json:"catalog_link"`
}

// Interviewers returns contributor names with the interviewer role, in catalog order.
func (m *Metadata) Interviewers() []string {
	return m.namesWithRole(RoleInterviewer)
}

// Interviewees returns contributor names with the interviewee role, in catalog order.
func (m *Metadata) Interviewees() []string {
	return m.namesWithRole(RoleInterviewee)
}

func (m *Metadata) namesWithRole(role ContributorRole) []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, c := range m.Contributors {
		if c.Role == role {
			out = append(out, c.Name)
		}
	}
	return out
}

// Clone returns a deep copy so chunks never share a contributor slice.
func (m *Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	cp := *m
	cp.Contributors = append([]Contributor(nil), m.Contributors...)
	return cp
}
