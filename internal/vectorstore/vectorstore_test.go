package vectorstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("paragraph-1")
	assert.Equal(t, a, PointID("paragraph-1"))
	assert.NotEqual(t, a, PointID("paragraph-2"))

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}
