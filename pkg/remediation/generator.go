// Package remediation turns classified findings into remedial actions. The
// preferred path is configuration-driven from the classification_codes
// rulebook; a hardcoded engine covers rulebook outages.
package remediation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
)

// Draft is a remedial action before persistence assigns identifiers.
type Draft struct {
	Code         string
	Description  string
	Location     string
	Severity     contracts.ActionSeverity
	DueDate      time.Time
	CostEstimate string
}

// Rulebook is the classification-code configuration loaded per call,
// keyed by code. Rows with a CEL match expression get a compiled program.
type Rulebook struct {
	rows     map[string]contracts.ClassificationCode
	programs map[string]cel.Program
	logger   *slog.Logger
}

// NewRulebook indexes the configuration rows and compiles any CEL match
// expressions. Rows whose expression fails to compile keep plain code
// matching.
func NewRulebook(rows []contracts.ClassificationCode, logger *slog.Logger) *Rulebook {
	if logger == nil {
		logger = slog.Default()
	}
	rb := &Rulebook{
		rows:     make(map[string]contracts.ClassificationCode, len(rows)),
		programs: make(map[string]cel.Program),
		logger:   logger,
	}

	var env *cel.Env
	for _, row := range rows {
		rb.rows[strings.ToUpper(row.Code)] = row
		if row.MatchExpression == "" {
			continue
		}
		if env == nil {
			var err error
			env, err = cel.NewEnv(cel.Variable("finding", cel.MapType(cel.StringType, cel.DynType)))
			if err != nil {
				logger.Warn("cel environment unavailable", "error", err)
				continue
			}
		}
		ast, issues := env.Compile(row.MatchExpression)
		if issues != nil && issues.Err() != nil {
			logger.Warn("classification code expression rejected", "code", row.Code, "error", issues.Err())
			continue
		}
		prg, err := env.Program(ast)
		if err != nil {
			logger.Warn("classification code program rejected", "code", row.Code, "error", err)
			continue
		}
		rb.programs[strings.ToUpper(row.Code)] = prg
	}
	return rb
}

// Empty reports whether the rulebook has no rows (config load failed or the
// table is unpopulated); callers fall back to the hardcoded engine.
func (rb *Rulebook) Empty() bool {
	return rb == nil || len(rb.rows) == 0
}

func (rb *Rulebook) lookup(code string, f classify.Finding) (contracts.ClassificationCode, bool) {
	code = strings.ToUpper(code)

	// An expression row claims the finding regardless of the derived code.
	for rowCode, prg := range rb.programs {
		out, _, err := prg.Eval(map[string]any{"finding": findingVars(f)})
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return rb.rows[rowCode], true
		}
	}

	row, ok := rb.rows[code]
	return row, ok
}

func findingVars(f classify.Finding) map[string]any {
	return map[string]any{
		"kind":           string(f.Kind),
		"code":           f.Code,
		"classification": f.Classification,
		"priority":       f.Priority,
		"risk":           f.Risk,
		"condition":      f.Condition,
		"category":       f.Category,
		"description":    f.Description,
		"location":       f.Location,
	}
}

// Generate produces remedial-action drafts for every finding in the record.
// Findings whose config row has autoCreateAction=false are skipped. When the
// outcome is UNSATISFACTORY and nothing was generated, a single
// REVIEW-{category} sweeper action is emitted.
func Generate(rb *Rulebook, category string, rec *classify.Record, outcome contracts.Outcome, now time.Time, logger *slog.Logger) []Draft {
	if logger == nil {
		logger = slog.Default()
	}

	var drafts []Draft
	if rb.Empty() {
		drafts = generateFallback(category, rec, now)
	} else {
		drafts = generateFromConfig(rb, category, rec, now)
	}

	if outcome == contracts.OutcomeUnsatisfactory && len(drafts) == 0 {
		sev := contracts.SeverityUrgent
		drafts = append(drafts, Draft{
			Code:         "REVIEW-" + category,
			Description:  fmt.Sprintf("Certificate recorded an unsatisfactory outcome but no individual defects could be classified; manual review required (%s)", category),
			Location:     "Property",
			Severity:     sev,
			DueDate:      contracts.DueDateFor(sev, now),
			CostEstimate: "TBD",
		})
	}
	return drafts
}

func generateFromConfig(rb *Rulebook, category string, rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.Findings {
		code := DeriveCode(category, f)
		if code == "" {
			continue
		}
		row, ok := rb.lookup(code, f)
		if !ok {
			// No config row; fall back to built-in defaults for the code.
			drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
			continue
		}
		if !row.AutoCreateAction {
			continue
		}
		sev := defaultSeverity(row.Code)
		if row.ActionSeverity != nil {
			sev = *row.ActionSeverity
		}
		drafts = appendDraft(drafts, row.Code, f, sev, row.ActionRequired, row.CostEstimateLow, row.CostEstimateHigh, now)
	}
	return drafts
}

func appendDraft(drafts []Draft, code string, f classify.Finding, sev contracts.ActionSeverity, actionRequired string, low, high *int64, now time.Time) []Draft {
	desc := actionRequired
	if desc == "" {
		desc = f.Description
	}
	if desc == "" {
		desc = code + " defect identified"
	}
	loc := f.Location
	if loc == "" {
		loc = "Property"
	}
	return append(drafts, Draft{
		Code:         code,
		Description:  desc,
		Location:     loc,
		Severity:     sev,
		DueDate:      contracts.DueDateFor(sev, now),
		CostEstimate: costBand(low, high),
	})
}

func costBand(low, high *int64) string {
	if low != nil && high != nil {
		return fmt.Sprintf("£%d-%d", *low/100, *high/100)
	}
	return "TBD"
}
