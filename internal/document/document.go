// Package document defines the paragraph, candidate and article records shared by
// retrieval, reranking, generation and listing.
package document

import (
	"fmt"
	"regexp"
	"strings"
)

// SectionAbstract is the section name under which abstract paragraphs are indexed.
const SectionAbstract = "Abstract"

// Paragraph is one indexed paragraph of a scientific article.
type Paragraph struct {
	// ParagraphID is the index document id; unique across the index.
	ParagraphID string
	// Position is the paragraph index within its article.
	Position    int
	ArticleID   string
	Title       string
	Text        string
	Section     string
	Authors     []string
	DOI         string
	PubmedID    string
	PMCID       string
	ArxivID     string
	Date        string // YYYY-MM-DD
	ArticleType string
	Journal     string // ISSN
}

// Candidate is a retrieved paragraph flowing through rerank and generation.
type Candidate struct {
	Paragraph

	Abstract       string
	RetrievalScore float64
	RerankingScore *float64

	// ContextID is the 0-based position in the final ordering. It is assigned
	// once the ordering is fixed and is the id the model cites.
	ContextID int

	JournalName  *string
	ImpactFactor *float64
	CitedBy      *int
}

// RerankText is the text compared with the query when reranking.
func (c Candidate) RerankText() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{c.Title, c.Abstract, c.Text} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// AssignContextIDs numbers candidates by their current position.
func AssignContextIDs(candidates []Candidate) {
	for i := range candidates {
		candidates[i].ContextID = i
	}
}

// ParagraphMetadata is the source record returned with answers and by paragraph retrieval.
type ParagraphMetadata struct {
	ArticleTitle   string   `json:"article_title"`
	Section        *string  `json:"section"`
	Paragraph      string   `json:"paragraph"`
	JournalISSN    *string  `json:"journal_issn"`
	Date           *string  `json:"date"`
	ArticleID      string   `json:"article_id"`
	DSDocumentID   string   `json:"ds_document_id"`
	ArticleDOI     *string  `json:"article_doi"`
	PubmedID       *string  `json:"pubmed_id"`
	ArticleAuthors []string `json:"article_authors"`
	ArticleType    *string  `json:"article_type"`
	ContextID      int      `json:"context_id"`
	RerankingScore *float64 `json:"reranking_score"`
	Abstract       *string  `json:"abstract"`
	JournalName    *string  `json:"journal_name"`
	ImpactFactor   *float64 `json:"impact_factor"`
	CitedBy        *int     `json:"cited_by"`
}

// Metadata converts a candidate into its response record.
func (c Candidate) Metadata() ParagraphMetadata {
	authors := c.Authors
	if authors == nil {
		authors = []string{}
	}
	return ParagraphMetadata{
		ArticleTitle:   c.Title,
		Section:        nullable(c.Section),
		Paragraph:      c.Text,
		JournalISSN:    nullable(c.Journal),
		Date:           nullable(c.Date),
		ArticleID:      c.ArticleID,
		DSDocumentID:   c.ParagraphID,
		ArticleDOI:     nullable(c.DOI),
		PubmedID:       nullable(c.PubmedID),
		ArticleAuthors: authors,
		ArticleType:    nullable(c.ArticleType),
		ContextID:      c.ContextID,
		RerankingScore: c.RerankingScore,
		Abstract:       nullable(c.Abstract),
		JournalName:    c.JournalName,
		ImpactFactor:   c.ImpactFactor,
		CitedBy:        c.CitedBy,
	}
}

// ArticleMetadata is one row of the article listing.
type ArticleMetadata struct {
	ArticleTitle   string   `json:"article_title"`
	JournalISSN    *string  `json:"journal_issn"`
	Date           *string  `json:"date"`
	ArticleID      string   `json:"article_id"`
	ArticleDOI     *string  `json:"article_doi"`
	PubmedID       *string  `json:"pubmed_id"`
	ArticleAuthors []string `json:"article_authors"`
	ArticleType    *string  `json:"article_type"`
	Abstract       *string  `json:"abstract"`
	JournalName    *string  `json:"journal_name"`
	ImpactFactor   *float64 `json:"impact_factor"`
	CitedBy        *int     `json:"cited_by"`
}

// ArticleMetadata converts a candidate into a listing row; paragraph fields are dropped.
func (c Candidate) ArticleMetadata() ArticleMetadata {
	authors := c.Authors
	if authors == nil {
		authors = []string{}
	}
	return ArticleMetadata{
		ArticleTitle:   c.Title,
		JournalISSN:    nullable(c.Journal),
		Date:           nullable(c.Date),
		ArticleID:      c.ArticleID,
		ArticleDOI:     nullable(c.DOI),
		PubmedID:       nullable(c.PubmedID),
		ArticleAuthors: authors,
		ArticleType:    nullable(c.ArticleType),
		Abstract:       nullable(c.Abstract),
		JournalName:    c.JournalName,
		ImpactFactor:   c.ImpactFactor,
		CitedBy:        c.CitedBy,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var issnPattern = regexp.MustCompile(`^\d{4}-\d{3}[0-9X]$`)

// ValidISSN reports whether s is a dashed ISSN such as 1234-567X.
func ValidISSN(s string) bool {
	return issnPattern.MatchString(s)
}

// FormatISSN normalizes space separated raw ISSNs ("1234567", "0123456X") into
// dashed, zero padded form.
func FormatISSN(raw string) (string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", nil
	}

	formatted := make([]string, 0, len(fields))
	for _, issn := range fields {
		issn = strings.ReplaceAll(issn, "-", "")
		if len(issn) < 8 {
			issn = strings.Repeat("0", 8-len(issn)) + issn
		}
		issn = issn[:4] + "-" + issn[4:]
		if !ValidISSN(issn) {
			return "", fmt.Errorf("ISSN %q not in correct format", issn)
		}
		formatted = append(formatted, issn)
	}
	return strings.Join(formatted, " "), nil
}
