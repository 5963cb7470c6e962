package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "harvardwestlake", NormalizeName("  Harvard\tWest lake "))
	require.Equal(t, "", NormalizeName(" \n "))
}

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("Harvard Westlake", "west lake"))
	require.True(t, MatchName("Harvard Westlake", "emory", "HARVARD"))
	require.False(t, MatchName("Harvard Westlake", "emory"))
	require.False(t, MatchName("Harvard Westlake", ""))
}
