package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magetools/internal/spell"
)

func TestParseArgPairs(t *testing.T) {
	args, err := parseArgPairs([]string{"a=2", "b=3.5", "flag=true", "name=world", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a":    2,
		"b":    3.5,
		"flag": true,
		"name": "world",
		"eq":   "a=b",
	}, args)
}

func TestParseArgPairs_Empty(t *testing.T) {
	args, err := parseArgPairs(nil)
	require.NoError(t, err)
	assert.Nil(t, args)
}

func TestParseArgPairs_Malformed(t *testing.T) {
	for _, bad := range []string{"novalue", "=orphan"} {
		_, err := parseArgPairs([]string{bad})
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, spell.ErrInvalidArgument)
	}
}
