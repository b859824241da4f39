package filter

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func phrases(ps ...string) []Phrase {
	out := make([]Phrase, len(ps))
	for i, p := range ps {
		out[i] = ParsePhrase(p)
	}
	return out
}

func TestCompile_Topics(t *testing.T) {
	expr := Compile(Set{Topics: phrases("a b", "c")})
	assert.Equal(t, "(a AND b) AND c", expr.String())

	and, ok := expr.(And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	assert.Equal(t, Word{Text: "c"}, and.Children[1])
}

func TestCompile_Regions(t *testing.T) {
	expr := Compile(Set{Regions: phrases("x y", "z")})
	assert.Equal(t, "(x AND y) OR z", expr.String())
	assert.IsType(t, Or{}, expr)
}

func TestCompile_TopicsAndRegions(t *testing.T) {
	expr := Compile(Set{Topics: phrases("a b", "c"), Regions: phrases("x y", "z")})
	assert.Equal(t, "((a AND b) AND c) AND ((x AND y) OR z)", expr.String())

	and, ok := expr.(And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	assert.IsType(t, And{}, and.Children[0])
	assert.IsType(t, Or{}, and.Children[1])
}

func TestCompile_ExactAndDateClauses(t *testing.T) {
	from := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	expr := Compile(Set{
		Topics:       phrases("soil"),
		ArticleTypes: []string{"review", "thesis"},
		Authors:      []string{"Jan Krepl"},
		DateFrom:     &from,
	})

	assert.Equal(t,
		`soil AND article_type:("review" OR "thesis") AND authors:("Jan Krepl") AND date:[2022-03-01 TO *]`,
		expr.String())

	and := expr.(And)
	require.Len(t, and.Children, 4)
	assert.Equal(t, Exact{Field: FieldAuthors, Values: []string{"Jan Krepl"}}, and.Children[2])
	rng := and.Children[3].(DateRange)
	assert.Nil(t, rng.To)
	assert.Equal(t, from, *rng.From)
}

func TestCompile_NormalizesExactValues(t *testing.T) {
	expr := Compile(Set{Topics: phrases("soil"), Authors: []string{" Smith", "", "Smith "}, Journals: []string{" "}})
	assert.Equal(t, `soil AND authors:("Smith")`, expr.String())
	assert.Equal(t, Word{Text: "soil"}, Compile(Set{Topics: phrases("soil"), Authors: []string{""}}))
}

func TestCompile_EmptyIsMatchAll(t *testing.T) {
	assert.Equal(t, MatchAll{}, Compile(Set{}))
	assert.Equal(t, MatchAll{}, Compile(Set{Topics: []Phrase{{}, {" "}}}))
}

func TestConjoin(t *testing.T) {
	assert.Equal(t, MatchAll{}, Conjoin(MatchAll{}, nil))
	assert.Equal(t, Word{Text: "a"}, Conjoin(MatchAll{}, Word{Text: "a"}))
	assert.Equal(t, "a AND (b OR c)", Conjoin(Word{Text: "a"}, Or{Children: []Expr{Word{Text: "b"}, Word{Text: "c"}}}).String())
}

func TestSet_Canonical(t *testing.T) {
	a := Set{
		Topics:  []Phrase{{"Soil", "carbon"}, {"forest"}},
		Authors: []string{"B", "A", "A"},
	}
	b := Set{
		Topics:  []Phrase{{"forest"}, {"carbon", "soil"}},
		Authors: []string{"A", "B"},
	}
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, []Phrase{{"carbon", "soil"}, {"forest"}}, a.Canonical().Topics)
}

func TestSet_Validate(t *testing.T) {
	assert.NoError(t, Set{Journals: []string{"1234-567X"}}.Validate())
	assert.ErrorIs(t, Set{Journals: []string{"1234567X"}}.Validate(), ErrInvalidFilter)

	from := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, Set{DateFrom: &from, DateTo: &to}.Validate(), ErrInvalidFilter)
}

func TestFromQuery(t *testing.T) {
	values := url.Values{
		"topics":    {"soil carbon", "  "},
		"regions":   {"Switzerland"},
		"journals":  {"1234-5678"},
		"date_from": {"2020-01-01"},
		"date_to":   {"2020-12-31"},
		"unrelated": {"x"},
	}
	s, err := FromQuery(values)
	require.NoError(t, err)
	assert.Equal(t, []Phrase{{"soil", "carbon"}}, s.Topics)
	assert.Equal(t, []Phrase{{"Switzerland"}}, s.Regions)
	assert.True(t, s.HasText())
	require.NotNil(t, s.DateTo)
	assert.Equal(t, 2020, s.DateTo.Year())

	_, err = FromQuery(url.Values{"date_to": {"31/12/2020"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = FromQuery(url.Values{"journals": {"bad"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	s, err = FromQuery(url.Values{"authors": {"", " Jan Krepl ", "Jan Krepl"}, "journals": {" 1234-5678"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Jan Krepl"}, s.Authors)
	assert.Equal(t, []string{"1234-5678"}, s.Journals)

	s, err = FromQuery(url.Values{"article_types": {"", " "}})
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, MatchAll{}, Compile(s))

	s, err = FromQuery(url.Values{})
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())
	assert.False(t, s.HasText())
}
