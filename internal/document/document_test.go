package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatISSN(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: ""},
		{raw: "12345678", want: "1234-5678"},
		{raw: "1234567", want: "0123-4567"},
		{raw: "123456X", want: "0123-456X"},
		{raw: "1234-5678 876543X", want: "1234-5678 0876-543X"},
	}
	for _, tt := range tests {
		got, err := FormatISSN(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, err := FormatISSN("12X45678")
	assert.Error(t, err)
}

func TestValidISSN(t *testing.T) {
	assert.True(t, ValidISSN("1234-567X"))
	assert.False(t, ValidISSN("1234567X"))
	assert.False(t, ValidISSN("1234-56X7"))
}

func TestCandidate_RerankText(t *testing.T) {
	c := Candidate{Paragraph: Paragraph{Title: "Title", Text: "Body"}, Abstract: " "}
	assert.Equal(t, "Title\nBody", c.RerankText())

	c.Abstract = "Abstract"
	assert.Equal(t, "Title\nAbstract\nBody", c.RerankText())
}

func TestCandidate_Metadata(t *testing.T) {
	score := 0.5
	c := Candidate{
		Paragraph: Paragraph{
			ParagraphID: "p1",
			ArticleID:   "a1",
			Title:       "T",
			Text:        "text",
			Journal:     "1234-5678",
		},
		RerankingScore: &score,
		ContextID:      3,
	}

	md := c.Metadata()
	assert.Equal(t, "p1", md.DSDocumentID)
	assert.Equal(t, 3, md.ContextID)
	assert.Equal(t, &score, md.RerankingScore)
	require.NotNil(t, md.JournalISSN)
	assert.Equal(t, "1234-5678", *md.JournalISSN)
	assert.Nil(t, md.ArticleDOI)
	assert.Equal(t, []string{}, md.ArticleAuthors)
}

func TestAssignContextIDs(t *testing.T) {
	candidates := make([]Candidate, 3)
	candidates[2].ContextID = 9
	AssignContextIDs(candidates)
	for i, c := range candidates {
		assert.Equal(t, i, c.ContextID)
	}
}
