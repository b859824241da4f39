// Package ingestion loads parsed articles into the paragraph index and the
// paragraph vector store.
package ingestion

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

// maxLineSize bounds one JSON line; full texts of long articles fit.
const maxLineSize = 64 << 20

var errInvalidArticle = errors.New("invalid article")

// Article is one parsed article as read from the load file.
type Article struct {
	ArticleID   string             `json:"article_id"`
	Title       string             `json:"title"`
	Authors     []string           `json:"authors"`
	DOI         string             `json:"doi"`
	PubmedID    string             `json:"pubmed_id"`
	PMCID       string             `json:"pmc_id"`
	ArxivID     string             `json:"arxiv_id"`
	Date        string             `json:"date"`
	ArticleType string             `json:"article_type"`
	Journal     string             `json:"journal"`
	Paragraphs  []ArticleParagraph `json:"paragraphs"`
}

// ArticleParagraph is one paragraph of an article body.
type ArticleParagraph struct {
	Section string `json:"section"`
	Text    string `json:"text"`
}

// Validate checks the fields every indexed paragraph needs.
func (a Article) Validate() error {
	if strings.TrimSpace(a.ArticleID) == "" {
		return fmt.Errorf("%w: article_id is required", errInvalidArticle)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("%w: %s has no title", errInvalidArticle, a.ArticleID)
	}
	return nil
}

// Abstract joins the paragraphs of the Abstract section in order.
func (a Article) Abstract() string {
	var parts []string
	for _, p := range a.Paragraphs {
		if p.Section == document.SectionAbstract {
			if t := strings.TrimSpace(p.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ParagraphDocID is the index id of the paragraph at position in the article.
func ParagraphDocID(articleID string, position int) string {
	return fmt.Sprintf("%s_%d", articleID, position)
}

func (a Article) doc(position int, p ArticleParagraph) searchindex.Doc {
	return searchindex.Doc{
		ArticleID:   a.ArticleID,
		ParagraphID: position,
		Title:       a.Title,
		Text:        p.Text,
		Section:     p.Section,
		Authors:     a.Authors,
		DOI:         a.DOI,
		PubmedID:    a.PubmedID,
		PMCID:       a.PMCID,
		ArxivID:     a.ArxivID,
		Date:        a.Date,
		ArticleType: a.ArticleType,
		Journal:     a.Journal,
	}
}

// readArticles decodes one article per line and calls fn for each. Lines that
// do not decode are passed to bad with their line number.
func readArticles(r io.Reader, fn func(Article) error, bad func(line int, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var a Article
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			bad(line, err)
			continue
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read articles: %w", err)
	}
	return nil
}
