package remediation

import (
	"strings"
	"time"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
)

// generateFallback is the hardcoded engine used when the classification-code
// configuration cannot be loaded or is empty. It covers the categories with
// statutory defect taxonomies; everything else drafts a generic action per
// actionable finding.
func generateFallback(category string, rec *classify.Record, now time.Time) []Draft {
	switch category {
	case classify.CategoryGasSafety:
		return fallbackGas(rec, now)
	case classify.CategoryEICR:
		return fallbackEICR(rec, now)
	case classify.CategoryFireRisk:
		return fallbackFRA(rec, now)
	case classify.CategoryAsbestos:
		return fallbackAsbestos(rec, now)
	case classify.CategoryLiftLoler:
		return fallbackLift(rec, now)
	case classify.CategoryEPC:
		return fallbackEPC(rec, now)
	default:
		return fallbackGeneric(category, rec, now)
	}
}

func fallbackGas(rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.FindingsOfKind(classify.KindDefect) {
		code := gasCode(strings.ToUpper(f.Code), f)
		if code == "" {
			continue
		}
		drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
	}
	for _, a := range rec.Appliances {
		if a.Safe != nil && !*a.Safe {
			drafts = appendDraft(drafts, "ID", classify.Finding{
				Description: applianceLabel(a) + " recorded as unsafe",
				Location:    a.Location,
			}, contracts.SeverityImmediate, "", nil, nil, now)
		}
	}
	return drafts
}

func fallbackEICR(rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.FindingsOfKind(classify.KindObservation, classify.KindDefect) {
		code := eicrCode(strings.ToUpper(f.Code), f)
		if code == "" {
			continue
		}
		drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
	}
	return drafts
}

func fallbackFRA(rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.FindingsOfKind(classify.KindFinding, classify.KindHazard) {
		code := fraCode(f)
		if code == "" || code == "TRIVIAL" {
			continue
		}
		drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
	}
	return drafts
}

func fallbackAsbestos(rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.FindingsOfKind(classify.KindMaterial) {
		code := asbestosCode(f)
		// Low-risk ACMs stay on the register; no action raised.
		if code == "" || code == "ACM_LOW" {
			continue
		}
		drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
	}
	return drafts
}

func fallbackLift(rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.FindingsOfKind(classify.KindDefect) {
		code := liftCode(f)
		if code == "" {
			continue
		}
		drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
	}
	return drafts
}

func fallbackEPC(rec *classify.Record, now time.Time) []Draft {
	rating := strings.ToUpper(strings.TrimSpace(rec.CurrentRating))
	switch rating {
	case "E", "F", "G":
		code := "EPC_" + rating
		sev := defaultSeverity(code)
		return []Draft{{
			Code:         code,
			Description:  "Energy rating " + rating + " is below the lettable standard; improvement works required",
			Location:     "Property",
			Severity:     sev,
			DueDate:      contracts.DueDateFor(sev, now),
			CostEstimate: "TBD",
		}}
	}
	return nil
}

func fallbackGeneric(category string, rec *classify.Record, now time.Time) []Draft {
	var drafts []Draft
	for _, f := range rec.Findings {
		code := DeriveCode(category, f)
		if code == "" || code == "GENERAL" && f.Description == "" {
			continue
		}
		drafts = appendDraft(drafts, code, f, defaultSeverity(code), "", nil, nil, now)
	}
	return drafts
}

func applianceLabel(a classify.Appliance) string {
	parts := []string{}
	for _, p := range []string{a.Make, a.Model, a.Type} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "Appliance"
	}
	return strings.Join(parts, " ")
}
