// Package vision invokes a multimodal LLM to turn certificate images or
// extracted text into structured JSON. Prompts are configuration: a YAML
// catalogue keyed by certificate category, versioned with semver, with a
// generic self-identification prompt for categories without a specific one.
package vision

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalogue []byte

// PromptEntry is one versioned prompt for a category.
type PromptEntry struct {
	Version string `yaml:"version"`
	Text    string `yaml:"text"`
}

type catalogueFile struct {
	Generic    []PromptEntry            `yaml:"generic"`
	Categories map[string][]PromptEntry `yaml:"categories"`
}

// PromptRegistry resolves the prompt for a certificate category. The highest
// semver version wins; unparseable versions sort last.
type PromptRegistry struct {
	generic    []PromptEntry
	categories map[string][]PromptEntry
}

// LoadPromptRegistry reads the catalogue from path, or the embedded default
// when path is empty.
func LoadPromptRegistry(path string) (*PromptRegistry, error) {
	raw := defaultCatalogue
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt catalogue: %w", err)
		}
		raw = data
	}

	var file catalogueFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}
	if len(file.Generic) == 0 {
		return nil, fmt.Errorf("prompt catalogue has no generic prompt")
	}
	return &PromptRegistry{generic: file.Generic, categories: file.Categories}, nil
}

// Resolve returns the prompt text and version for a category. Categories
// without a specific prompt fall through to the generic prompt, which asks
// the model to self-identify the document type.
func (r *PromptRegistry) Resolve(category string) (text, version string, specific bool) {
	if entries, ok := r.categories[category]; ok && len(entries) > 0 {
		e := highestVersion(entries)
		return e.Text, e.Version, true
	}
	e := highestVersion(r.generic)
	return e.Text, e.Version, false
}

func highestVersion(entries []PromptEntry) PromptEntry {
	sorted := make([]PromptEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, erri := semver.NewVersion(sorted[i].Version)
		vj, errj := semver.NewVersion(sorted[j].Version)
		if erri != nil || errj != nil {
			return errj != nil && erri == nil
		}
		return vi.GreaterThan(vj)
	})
	return sorted[0]
}
