package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	ref := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	next, err := NextRun("0 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC), next)

	next, err = NextRun("*/15 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, ref.Add(15*time.Minute), next)
}

func TestNextRunRejectsBadExpression(t *testing.T) {
	_, err := NextRun("every tuesday", time.Now())
	assert.Error(t, err)
}
