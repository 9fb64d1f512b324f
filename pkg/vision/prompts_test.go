package vision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogueLoads(t *testing.T) {
	reg, err := LoadPromptRegistry("")
	require.NoError(t, err)

	text, version, specific := reg.Resolve("GAS_SAFETY")
	assert.True(t, specific)
	assert.Equal(t, "2.1.0", version)
	assert.Contains(t, text, "Gas Safety")
}

func TestResolveFallsBackToGeneric(t *testing.T) {
	reg, err := LoadPromptRegistry("")
	require.NoError(t, err)

	text, version, specific := reg.Resolve("OTHER")
	assert.False(t, specific)
	assert.Equal(t, "1.2.0", version)
	assert.Contains(t, text, "Identify the")
}

func TestHighestVersionWins(t *testing.T) {
	catalogue := `
generic:
  - version: "1.0.0"
    text: old
  - version: "1.2.0"
    text: newer
  - version: "not-semver"
    text: junk
`
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogue), 0o644))

	reg, err := LoadPromptRegistry(path)
	require.NoError(t, err)

	text, version, _ := reg.Resolve("ANY")
	assert.Equal(t, "1.2.0", version)
	assert.Equal(t, "newer", text)
}

func TestMissingCatalogueFileErrors(t *testing.T) {
	_, err := LoadPromptRegistry("/nonexistent/prompts.yaml")
	assert.Error(t, err)
}
