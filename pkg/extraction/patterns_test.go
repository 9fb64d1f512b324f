package extraction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/classify"
)

func TestEmbeddedPatternLibraryLoads(t *testing.T) {
	lib, err := LoadPatternLibrary("")
	require.NoError(t, err)

	categories := make([]string, 0, len(lib.patterns))
	for _, p := range lib.patterns {
		categories = append(categories, p.category)
	}
	assert.Contains(t, categories, classify.CategoryGasSafety)
	assert.Contains(t, categories, classify.CategoryEICR)
	assert.Contains(t, categories, classify.CategoryLiftLoler)
}

func TestPatternLibraryFileOverride(t *testing.T) {
	library := `
shared:
  certificateNumber: '(?i)ref\s*[:.]?\s*([A-Z0-9\-]{4,20})'
  issueDate: '(?i)issued\s*[:.]?\s*(\d{4}-\d{2}-\d{2})'
  expiryDate: '(?i)expires\s*[:.]?\s*(\d{4}-\d{2}-\d{2})'
categories:
  - category: GAS_SAFETY
    docType: '(?i)bespoke\s+gas\s+form'
    fields:
      gasSafeNumber: '(?i)engineer\s+id\s*[:.]?\s*(\d{6})'
`
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(library), 0o644))

	lib, err := LoadPatternLibrary(path)
	require.NoError(t, err)

	raw, conf, category, _ := lib.match("BESPOKE GAS FORM ref: AB-1234 issued: 2026-01-10 engineer id: 654321")
	require.NotNil(t, raw)
	assert.Equal(t, classify.CategoryGasSafety, category)
	assert.Greater(t, conf, 0.5)
	assert.Contains(t, string(raw), "654321")
}

func TestPatternLibraryRejectsBadRegex(t *testing.T) {
	library := `
categories:
  - category: EICR
    docType: '(['
`
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(library), 0o644))

	_, err := LoadPatternLibrary(path)
	assert.Error(t, err)
}

func TestMissingPatternLibraryFileErrors(t *testing.T) {
	_, err := LoadPatternLibrary("/nonexistent/patterns.yaml")
	assert.Error(t, err)
}
