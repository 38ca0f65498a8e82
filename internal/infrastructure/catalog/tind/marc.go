package tind

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// MARCXML collection returned by `record/{id}/?of=xm`.
type marcCollection struct {
	XMLName xml.Name     `xml:"collection"`
	Records []marcRecord `xml:"record"`
}

type marcRecord struct {
	ControlFields []marcControlField `xml:"controlfield"`
	DataFields    []marcDataField    `xml:"datafield"`
}

type marcControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

type marcDataField struct {
	Tag       string         `xml:"tag,attr"`
	Ind1      string         `xml:"ind1,attr"`
	Ind2      string         `xml:"ind2,attr"`
	Subfields []marcSubfield `xml:"subfield"`
}

type marcSubfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

func parseMARCXML(data []byte) ([]marcRecord, error) {
	var coll marcCollection
	if err := xml.Unmarshal(data, &coll); err != nil {
		// A bare <record> document is valid MARCXML too.
		var rec marcRecord
		if err2 := xml.Unmarshal(data, &rec); err2 != nil {
			return nil, fmt.Errorf("failed to parse MARCXML: %w", err)
		}
		return []marcRecord{rec}, nil
	}
	return coll.Records, nil
}

func (r marcRecord) control(tag string) string {
	for _, f := range r.ControlFields {
		if f.Tag == tag {
			return strings.TrimSpace(f.Value)
		}
	}
	return ""
}

func (r marcRecord) fields(tag string) []marcDataField {
	var out []marcDataField
	for _, f := range r.DataFields {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

func (f marcDataField) first(code string) string {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return strings.TrimSpace(sf.Value)
		}
	}
	return ""
}

func (f marcDataField) all(code string) []string {
	var out []string
	for _, sf := range f.Subfields {
		if sf.Code == code {
			if v := strings.TrimSpace(sf.Value); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// firstSubfield returns the first non-empty code subfield across the given tags, in tag order.
func (r marcRecord) firstSubfield(code string, tags ...string) string {
	for _, tag := range tags {
		for _, f := range r.fields(tag) {
			if v := f.first(code); v != "" {
				return v
			}
		}
	}
	return ""
}

// toMetadata maps a MARC record onto citation metadata.
//
//	title        245 $a [+ " " + $b], trailing ISBD punctuation removed
//	contributors 100 and 700 $a, role from $e; a 100 without $e is the interviewee
//	project      982 $b, else 490 $a, else 830 $a
func (r marcRecord) toMetadata(documentID, recordURL string) entity.Metadata {
	md := entity.Metadata{
		DocumentID:  documentID,
		CatalogLink: strings.TrimRight(recordURL, "/") + "/" + documentID,
	}

	if f := r.fields("245"); len(f) > 0 {
		title := f[0].first("a")
		if sub := f[0].first("b"); sub != "" {
			title = trimISBD(title) + " " + sub
		}
		md.Title = trimISBD(title)
	}

	for _, f := range r.fields("100") {
		name := trimISBD(f.first("a"))
		if name == "" {
			continue
		}
		role := entity.RoleInterviewee
		if e := f.first("e"); e != "" {
			parsed, err := entity.ParseContributorRole(e)
			if err != nil {
				continue
			}
			role = parsed
		}
		md.Contributors = append(md.Contributors, entity.Contributor{Name: name, Role: role})
	}
	for _, f := range r.fields("700") {
		name := trimISBD(f.first("a"))
		if name == "" {
			continue
		}
		for _, e := range f.all("e") {
			role, err := entity.ParseContributorRole(e)
			if err != nil {
				continue
			}
			md.Contributors = append(md.Contributors, entity.Contributor{Name: name, Role: role})
			break
		}
	}

	md.ProjectName = trimISBD(r.firstSubfield("b", "982"))
	if md.ProjectName == "" {
		md.ProjectName = trimISBD(r.firstSubfield("a", "490", "830"))
	}
	return md
}

// trimISBD drops the trailing " /", " :", "," and "." MARC cataloguers append.
func trimISBD(s string) string {
	s = strings.TrimSpace(s)
	for {
		t := strings.TrimRight(s, " /:;,")
		if strings.HasSuffix(t, ".") && !strings.HasSuffix(t, "..") {
			t = strings.TrimSuffix(t, ".")
		}
		t = strings.TrimSpace(t)
		if t == s {
			return s
		}
		s = t
	}
}
