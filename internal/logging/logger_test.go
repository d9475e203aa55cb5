package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew builds both logger flavors.
func TestNew(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	require.NoError(t, err)
	assert.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	assert.NotNil(t, prod)
}

// TestForRun tolerates a nil base logger.
func TestForRun(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, ForRun(nil, "r", "u"))

	base, err := New(false)
	require.NoError(t, err)
	assert.NotNil(t, ForRun(base, "r", "u"))
}
