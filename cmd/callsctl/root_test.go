package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDayBounds(t *testing.T) {
	from, err := parseDay("2025-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *from)

	to, err := parseDay("2025-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 23, 59, 59, 999999999, time.UTC), *to)

	exact, err := parseDay("2025-03-01T12:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), *exact)

	none, err := parseDay("", true)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseDay("March 1st", false)
	assert.Error(t, err)
}
