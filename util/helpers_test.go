package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", FirstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", FirstNonEmpty("", " "))
	assert.Equal(t, "", FirstNonEmpty())
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("VULNGRAPH_TEST_SET", "value")
	assert.Equal(t, "value", GetEnvDefault("VULNGRAPH_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", GetEnvDefault("VULNGRAPH_TEST_UNSET_XYZ", "fallback"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}

func TestBuildPURL(t *testing.T) {
	tests := []struct {
		name      string
		pkg       string
		version   string
		ecosystem string
		want      string
	}{
		{"npm", "lodash", "4.17.20", "npm", "pkg:npm/lodash@4.17.20"},
		{"maven namespace", "org.apache.logging.log4j:log4j-core", "2.14.1", "Maven", "pkg:maven/org.apache.logging.log4j/log4j-core@2.14.1"},
		{"unknown ecosystem is generic", "openssl", "1.1.1k", "", "pkg:generic/openssl@1.1.1k"},
		{"existing purl is cleaned", "pkg:pypi/Django@3.2.0?arch=x86#sub", "", "", "pkg:pypi/django@3.2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPURL(tt.pkg, tt.version, tt.ecosystem)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSemanticVersion(t *testing.T) {
	major, minor, patch := ParseSemanticVersion("v2.14.1")
	require.NotNil(t, major)
	assert.Equal(t, 2, *major)
	assert.Equal(t, 14, *minor)
	assert.Equal(t, 1, *patch)

	major, minor, patch = ParseSemanticVersion("not-a-version")
	assert.Nil(t, major)
	assert.Nil(t, minor)
	assert.Nil(t, patch)
}
