// Package filter turns structured article filters into a dialect-neutral boolean
// query expression. The same expression feeds question answering retrieval, article
// counting and article listing so that all three see the same article set.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/knoguchi/scholarag/internal/document"
)

// DateLayout is the wire format of date_from and date_to.
const DateLayout = "2006-01-02"

// ErrInvalidFilter is returned for malformed filter values.
var ErrInvalidFilter = errors.New("invalid filter")

// Phrase is the set of words of one user phrase. Words of a phrase are AND-matched.
type Phrase []string

// ParsePhrase splits a phrase into its words.
func ParsePhrase(s string) Phrase {
	return Phrase(strings.Fields(s))
}

// Set is the structured filter of a request.
type Set struct {
	// Topics are AND-matched across phrases.
	Topics []Phrase
	// Regions are OR-matched across phrases.
	Regions []Phrase
	// ArticleTypes, Authors and Journals are exact-match values, OR-matched within each field.
	ArticleTypes []string
	Authors      []string
	Journals     []string
	// DateFrom and DateTo bound the publication date, both inclusive.
	DateFrom *time.Time
	DateTo   *time.Time
}

// IsEmpty reports whether the set restricts nothing.
func (s Set) IsEmpty() bool {
	return len(nonEmpty(s.Topics)) == 0 && len(nonEmpty(s.Regions)) == 0 &&
		len(ExactValues(s.ArticleTypes)) == 0 && len(ExactValues(s.Authors)) == 0 &&
		len(ExactValues(s.Journals)) == 0 &&
		s.DateFrom == nil && s.DateTo == nil
}

// HasText reports whether at least one topic or region phrase is present.
func (s Set) HasText() bool {
	return len(nonEmpty(s.Topics)) > 0 || len(nonEmpty(s.Regions)) > 0
}

// Validate checks ISSN formats and the date interval.
func (s Set) Validate() error {
	for _, issn := range ExactValues(s.Journals) {
		if !document.ValidISSN(issn) {
			return fmt.Errorf("%w: journal %q is not an ISSN of the form XXXX-XXXX", ErrInvalidFilter, issn)
		}
	}
	if s.DateFrom != nil && s.DateTo != nil && s.DateFrom.After(*s.DateTo) {
		return fmt.Errorf("%w: date_from is after date_to", ErrInvalidFilter)
	}
	return nil
}

// Canonical returns an equivalent set in a deterministic form: words are
// case-folded, sorted and deduplicated within phrases, phrases and exact-match
// values are sorted and deduplicated. Exact-match values keep their case.
func (s Set) Canonical() Set {
	out := Set{
		Topics:       canonicalPhrases(s.Topics),
		Regions:      canonicalPhrases(s.Regions),
		ArticleTypes: sortedUnique(s.ArticleTypes),
		Authors:      sortedUnique(s.Authors),
		Journals:     sortedUnique(s.Journals),
	}
	if s.DateFrom != nil {
		d := s.DateFrom.UTC().Truncate(24 * time.Hour)
		out.DateFrom = &d
	}
	if s.DateTo != nil {
		d := s.DateTo.UTC().Truncate(24 * time.Hour)
		out.DateTo = &d
	}
	return out
}

func canonicalPhrases(phrases []Phrase) []Phrase {
	seen := make(map[string]struct{})
	out := make([]Phrase, 0, len(phrases))
	for _, p := range nonEmpty(phrases) {
		words := make([]string, len(p))
		for i, w := range p {
			words[i] = strings.ToLower(w)
		}
		words = sortedUnique(words)
		key := strings.Join(words, " ")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Phrase(words))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], " ") < strings.Join(out[j], " ")
	})
	return out
}

func sortedUnique(values []string) []string {
	out := ExactValues(values)
	sort.Strings(out)
	return out
}

// ExactValues trims exact-match values and drops blank and repeated ones,
// keeping the first occurrence order. Compile and Canonical see the same values.
func ExactValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func nonEmpty(phrases []Phrase) []Phrase {
	out := make([]Phrase, 0, len(phrases))
	for _, p := range phrases {
		words := make(Phrase, 0, len(p))
		for _, w := range p {
			if w = strings.TrimSpace(w); w != "" {
				words = append(words, w)
			}
		}
		if len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

// FromQuery reads a filter set from URL query parameters: topics, regions,
// article_types, authors, journals (repeatable) and date_from, date_to (YYYY-MM-DD).
func FromQuery(values url.Values) (Set, error) {
	var s Set
	for _, t := range values["topics"] {
		if p := ParsePhrase(t); len(p) > 0 {
			s.Topics = append(s.Topics, p)
		}
	}
	for _, r := range values["regions"] {
		if p := ParsePhrase(r); len(p) > 0 {
			s.Regions = append(s.Regions, p)
		}
	}
	s.ArticleTypes = ExactValues(values["article_types"])
	s.Authors = ExactValues(values["authors"])
	s.Journals = ExactValues(values["journals"])

	var err error
	if s.DateFrom, err = parseDate(values.Get("date_from"), "date_from"); err != nil {
		return Set{}, err
	}
	if s.DateTo, err = parseDate(values.Get("date_to"), "date_to"); err != nil {
		return Set{}, err
	}

	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

func parseDate(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be formatted YYYY-MM-DD", ErrInvalidFilter, name)
	}
	return &t, nil
}
