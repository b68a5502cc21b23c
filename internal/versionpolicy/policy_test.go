package versionpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPrefix(t *testing.T) {
	require.Equal(t, "RT1000", ExtractPrefix("RT1000_1.2.3.4"))
	require.Equal(t, "", ExtractPrefix("not-a-version"))
}

func TestCompareNumeric(t *testing.T) {
	require.True(t, Compare("RT1000_1.2.3.5", "RT1000_1.2.3.4") > 0)
	require.True(t, Compare("RT1000_1.2.3.4", "RT1000_1.2.3.5") < 0)
	require.Equal(t, 0, Compare("RT1000_1.2.3.4", "RT1000_1.2.3.4"))
	require.True(t, Compare("RT1000_2.0.0.0", "RT1000_1.9.9.9") > 0)
}

func TestUpdateAvailableSameFamily(t *testing.T) {
	require.True(t, UpdateAvailable("RT1000_1.2.3.4", "RT1000_1.2.3.5"))
	require.False(t, UpdateAvailable("RT1000_1.2.3.5", "RT1000_1.2.3.4"))
	require.False(t, UpdateAvailable("RT1000_1.2.3.4", "RT1000_1.2.3.4"))
}

func TestUpdateAvailableDifferentFamily(t *testing.T) {
	require.False(t, UpdateAvailable("RT1000_1.2.3.4", "RT2000_2.0.0.0"))
}

func TestUpdateAvailableEmpty(t *testing.T) {
	require.False(t, UpdateAvailable("", "RT1000_1.0.0.0"))
	require.False(t, UpdateAvailable("RT1000_1.0.0.0", ""))
}
