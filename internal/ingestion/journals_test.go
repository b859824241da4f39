package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJournals(t *testing.T) {
	in := `ISSN,Name,Impact_Factor
1234-5678,Global Change Biology,13.2
2345678,"Soil Biology, and Biochemistry",
bad,Broken,1
1111-2222,Bad IF,high
`
	journals, err := ReadJournals(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `line 4: invalid ISSN "bad"`)
	assert.Contains(t, err.Error(), `line 5: invalid impact factor "high"`)

	require.Len(t, journals, 2)
	assert.Equal(t, "1234-5678", journals[0].ISSN)
	require.NotNil(t, journals[0].ImpactFactor)
	assert.InDelta(t, 13.2, *journals[0].ImpactFactor, 1e-9)

	assert.Equal(t, "0234-5678", journals[1].ISSN)
	assert.Equal(t, "Soil Biology, and Biochemistry", journals[1].Name)
	assert.Nil(t, journals[1].ImpactFactor)
}

func TestReadJournals_MissingColumn(t *testing.T) {
	_, err := ReadJournals(strings.NewReader("issn,impact_factor\n1234-5678,1\n"))
	assert.ErrorContains(t, err, `no "name" column`)
}
