package filter

import (
	"strconv"
	"strings"
	"time"
)

// Field names an indexed paragraph attribute used by exact-match and range clauses.
type Field string

const (
	FieldArticleType Field = "article_type"
	FieldAuthors     Field = "authors"
	FieldJournal     Field = "journal"
	FieldDate        Field = "date"
	FieldArticleID   Field = "article_id"
	FieldSection     Field = "section"
)

// Expr is a node of a compiled boolean query. Index dialects translate it into
// their native query representation.
type Expr interface {
	String() string
	expr()
}

// MatchAll matches every paragraph.
type MatchAll struct{}

// Word matches a free-text word against paragraph title and text.
type Word struct {
	Text string
}

// And matches when every child matches.
type And struct {
	Children []Expr
}

// Or matches when any child matches.
type Or struct {
	Children []Expr
}

// Exact matches when Field equals one of Values verbatim.
type Exact struct {
	Field  Field
	Values []string
}

// DateRange matches dates within [From, To]. A nil bound is open.
type DateRange struct {
	Field Field
	From  *time.Time
	To    *time.Time
}

func (MatchAll) expr()  {}
func (Word) expr()      {}
func (And) expr()       {}
func (Or) expr()        {}
func (Exact) expr()     {}
func (DateRange) expr() {}

func (MatchAll) String() string { return "*" }

func (w Word) String() string { return w.Text }

func (a And) String() string { return join(a.Children, " AND ") }

func (o Or) String() string { return join(o.Children, " OR ") }

func (e Exact) String() string {
	quoted := make([]string, len(e.Values))
	for i, v := range e.Values {
		quoted[i] = strconv.Quote(v)
	}
	return string(e.Field) + ":(" + strings.Join(quoted, " OR ") + ")"
}

func (r DateRange) String() string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.Format(DateLayout)
	}
	return string(r.Field) + ":[" + bound(r.From) + " TO " + bound(r.To) + "]"
}

func join(children []Expr, op string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		s := c.String()
		if isCompound(c) {
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, op)
}

func isCompound(e Expr) bool {
	switch v := e.(type) {
	case And:
		return len(v.Children) > 1
	case Or:
		return len(v.Children) > 1
	}
	return false
}

// Compile builds the boolean expression of a filter set.
//
// Words of a phrase are AND-ed. Topic phrases are AND-ed together, region phrases
// OR-ed together, and the two groups AND-ed. Each exact-match field contributes an
// OR of its values and the date bounds one inclusive range; all clauses are AND-ed.
// An empty set compiles to MatchAll.
func Compile(s Set) Expr {
	var clauses []Expr

	if topics := nonEmpty(s.Topics); len(topics) > 0 {
		clauses = append(clauses, combine(phraseExprs(topics), func(c []Expr) Expr { return And{Children: c} }))
	}
	if regions := nonEmpty(s.Regions); len(regions) > 0 {
		clauses = append(clauses, combine(phraseExprs(regions), func(c []Expr) Expr { return Or{Children: c} }))
	}

	for _, exact := range []Exact{
		{Field: FieldArticleType, Values: ExactValues(s.ArticleTypes)},
		{Field: FieldAuthors, Values: ExactValues(s.Authors)},
		{Field: FieldJournal, Values: ExactValues(s.Journals)},
	} {
		if len(exact.Values) > 0 {
			clauses = append(clauses, exact)
		}
	}

	if s.DateFrom != nil || s.DateTo != nil {
		clauses = append(clauses, DateRange{Field: FieldDate, From: s.DateFrom, To: s.DateTo})
	}

	switch len(clauses) {
	case 0:
		return MatchAll{}
	case 1:
		return clauses[0]
	default:
		return And{Children: clauses}
	}
}

func phraseExprs(phrases []Phrase) []Expr {
	out := make([]Expr, len(phrases))
	for i, p := range phrases {
		words := make([]Expr, len(p))
		for j, w := range p {
			words[j] = Word{Text: w}
		}
		out[i] = combine(words, func(c []Expr) Expr { return And{Children: c} })
	}
	return out
}

func combine(children []Expr, op func([]Expr) Expr) Expr {
	if len(children) == 1 {
		return children[0]
	}
	return op(children)
}

// Conjoin ANDs expressions, dropping MatchAll operands.
func Conjoin(exprs ...Expr) Expr {
	kept := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if _, ok := e.(MatchAll); ok {
			continue
		}
		kept = append(kept, e)
	}
	switch len(kept) {
	case 0:
		return MatchAll{}
	case 1:
		return kept[0]
	default:
		return And{Children: kept}
	}
}
