package searchindex

import (
	"strings"
	"time"

	"github.com/knoguchi/scholarag/internal/document"
)

// Doc is the stored form of a paragraph in both dialects.
type Doc struct {
	ArticleID   string   `json:"article_id"`
	ParagraphID int      `json:"paragraph_id"`
	Title       string   `json:"title"`
	Text        string   `json:"text"`
	Section     string   `json:"section,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	DOI         string   `json:"doi,omitempty"`
	PubmedID    string   `json:"pubmed_id,omitempty"`
	PMCID       string   `json:"pmc_id,omitempty"`
	ArxivID     string   `json:"arxiv_id,omitempty"`
	Date        string   `json:"date,omitempty"`
	ArticleType string   `json:"article_type,omitempty"`
	Journal     string   `json:"journal,omitempty"`
}

// Paragraph converts a stored document with index id into a paragraph.
// Journals are normalized to dashed ISSNs; an unparsable ISSN is dropped.
func (d Doc) Paragraph(id string) document.Paragraph {
	journal, err := document.FormatISSN(d.Journal)
	if err != nil {
		journal = ""
	}
	return document.Paragraph{
		ParagraphID: id,
		Position:    d.ParagraphID,
		ArticleID:   d.ArticleID,
		Title:       d.Title,
		Text:        d.Text,
		Section:     d.Section,
		Authors:     d.Authors,
		DOI:         d.DOI,
		PubmedID:    d.PubmedID,
		PMCID:       d.PMCID,
		ArxivID:     d.ArxivID,
		Date:        normalizeDate(d.Date),
		ArticleType: d.ArticleType,
		Journal:     journal,
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano, time.RFC3339}

// normalizeDate renders stored dates as YYYY-MM-DD. Unknown layouts pass through.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
