package extraction

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/complianceai/certpipe/pkg/classify"
)

//go:embed patterns.yaml
var defaultPatternSource []byte

var defaultPatterns = sync.OnceValue(func() *PatternLibrary {
	lib, err := parsePatternLibrary(defaultPatternSource)
	if err != nil {
		panic(fmt.Sprintf("embedded pattern library: %v", err))
	}
	return lib
})

// categoryPattern recognises one certificate category in plain text and
// lifts the fields its documents reliably print.
type categoryPattern struct {
	category string
	docType  *regexp.Regexp
	fields   map[string]*regexp.Regexp
}

// PatternLibrary is the compiled regex library for the pattern tier. Like
// the vision prompt catalogue it is configuration: a YAML file with an
// embedded default.
type PatternLibrary struct {
	patterns   []categoryPattern
	certNumber *regexp.Regexp
	issueDate  *regexp.Regexp
	expiryDate *regexp.Regexp
}

type patternFile struct {
	Shared struct {
		CertificateNumber string `yaml:"certificateNumber"`
		IssueDate         string `yaml:"issueDate"`
		ExpiryDate        string `yaml:"expiryDate"`
	} `yaml:"shared"`
	Categories []struct {
		Category string            `yaml:"category"`
		DocType  string            `yaml:"docType"`
		Fields   map[string]string `yaml:"fields"`
	} `yaml:"categories"`
}

// LoadPatternLibrary reads and compiles the library from path, or the
// embedded default when path is empty.
func LoadPatternLibrary(path string) (*PatternLibrary, error) {
	if path == "" {
		return defaultPatterns(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern library: %w", err)
	}
	return parsePatternLibrary(raw)
}

func parsePatternLibrary(raw []byte) (*PatternLibrary, error) {
	var file patternFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pattern library: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("pattern library has no categories")
	}

	lib := &PatternLibrary{}
	var err error
	if lib.certNumber, err = regexp.Compile(file.Shared.CertificateNumber); err != nil {
		return nil, fmt.Errorf("pattern library shared certificateNumber: %w", err)
	}
	if lib.issueDate, err = regexp.Compile(file.Shared.IssueDate); err != nil {
		return nil, fmt.Errorf("pattern library shared issueDate: %w", err)
	}
	if lib.expiryDate, err = regexp.Compile(file.Shared.ExpiryDate); err != nil {
		return nil, fmt.Errorf("pattern library shared expiryDate: %w", err)
	}

	for _, c := range file.Categories {
		if c.Category == "" {
			return nil, fmt.Errorf("pattern library entry missing category")
		}
		docType, err := regexp.Compile(c.DocType)
		if err != nil {
			return nil, fmt.Errorf("pattern library %s docType: %w", c.Category, err)
		}
		fields := make(map[string]*regexp.Regexp, len(c.Fields))
		for name, expr := range c.Fields {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("pattern library %s field %s: %w", c.Category, name, err)
			}
			fields[name] = re
		}
		lib.patterns = append(lib.patterns, categoryPattern{category: c.Category, docType: docType, fields: fields})
	}
	return lib, nil
}

// match scans extracted text against the per-category regex library. It
// returns the best-matching category's fields as JSON plus a confidence
// proportional to how much of the library matched.
func (l *PatternLibrary) match(text string) (json.RawMessage, float64, string, int) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, "", 0
	}

	var best *categoryPattern
	for i := range l.patterns {
		if l.patterns[i].docType.MatchString(text) {
			best = &l.patterns[i]
			break
		}
	}
	if best == nil {
		return nil, 0, "", 0
	}

	out := map[string]any{"documentType": best.category}
	confidence := 0.35
	for field, re := range best.fields {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			out[field] = strings.ToUpper(strings.TrimSpace(m[1]))
			confidence += 0.15
		}
	}
	if m := l.certNumber.FindStringSubmatch(text); len(m) > 1 {
		out["certificateNumber"] = strings.TrimSpace(m[1])
		confidence += 0.15
	}
	if m := l.issueDate.FindStringSubmatch(text); len(m) > 1 {
		out["issueDate"] = strings.TrimSpace(m[1])
		confidence += 0.1
	}
	if m := l.expiryDate.FindStringSubmatch(text); len(m) > 1 {
		out["expiryDate"] = strings.TrimSpace(m[1])
		confidence += 0.1
	}
	if confidence > 0.9 {
		confidence = 0.9
	}

	data, _ := json.Marshal(out)
	return data, confidence, best.category, len(out)
}

// guessFromFilename infers a category from the upload's filename alone.
func guessFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	return classify.MapDocumentTypeToCategory(base)
}
