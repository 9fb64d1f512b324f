package classify

import (
	"strings"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// DetermineOutcome applies the compliance rules to a normalised record.
// Evaluation stops at the first rule that yields UNSATISFACTORY; a
// category's clean pass is provisional until the generic rules have also
// been consulted.
func DetermineOutcome(category string, rec *Record) contracts.Outcome {
	if rec == nil {
		return contracts.OutcomeSatisfactory
	}

	// 1. Explicit top-level verdict.
	if containsAnyPhrase(rec.OverallOutcome, "UNSATISFACTORY", "FAIL", "NOT SAFE") {
		return contracts.OutcomeUnsatisfactory
	}

	// 2. Category-specific rules.
	switch category {
	case CategoryGasSafety:
		if gasUnsatisfactory(rec) {
			return contracts.OutcomeUnsatisfactory
		}
	case CategoryEICR:
		if eicrUnsatisfactory(rec) {
			return contracts.OutcomeUnsatisfactory
		}
	case CategoryFireRisk:
		if fireUnsatisfactory(rec) {
			return contracts.OutcomeUnsatisfactory
		}
	case CategoryAsbestos:
		if asbestosUnsatisfactory(rec) {
			return contracts.OutcomeUnsatisfactory
		}
	case CategoryLegionella:
		if legionellaUnsatisfactory(rec) {
			return contracts.OutcomeUnsatisfactory
		}
	case CategoryLiftLoler:
		if liftUnsatisfactory(rec) {
			return contracts.OutcomeUnsatisfactory
		}
	}

	// 3. Generic sweep.
	if genericUnsatisfactory(rec) {
		return contracts.OutcomeUnsatisfactory
	}

	// 4. Clean.
	return contracts.OutcomeSatisfactory
}

var gasFailTokens = []string{"ID", "AR", "NCS", "CONDEMNED"}

var gasFailPhrases = []string{
	"FAIL", "UNSAFE", "IMMEDIATELY DANGEROUS", "AT RISK",
	"NOT TO CURRENT STANDARD", "CONDEMNED",
}

func gasUnsatisfactory(rec *Record) bool {
	for _, a := range rec.Appliances {
		if a.Safe != nil && !*a.Safe {
			return true
		}
		if containsAnyPhrase(a.Outcome, gasFailPhrases...) || containsAnyToken(a.Outcome, gasFailTokens...) {
			return true
		}
	}
	for _, f := range rec.FindingsOfKind(KindDefect) {
		if containsAnyToken(f.Classification, gasFailTokens...) {
			return true
		}
	}
	return false
}

func eicrUnsatisfactory(rec *Record) bool {
	if rec.C1Count > 0 || rec.C2Count > 0 || rec.FICount > 0 {
		return true
	}
	for _, f := range rec.FindingsOfKind(KindObservation) {
		switch strings.ToUpper(strings.TrimSpace(f.Code)) {
		case "C1", "C2", "FI":
			return true
		}
	}
	return false
}

func fireUnsatisfactory(rec *Record) bool {
	if containsAnyPhrase(rec.RiskLevel, "HIGH", "SUBSTANTIAL", "INTOLERABLE", "CRITICAL") {
		return true
	}
	for _, f := range rec.FindingsOfKind(KindFinding) {
		if containsAnyPhrase(f.Priority, "HIGH", "IMMEDIATE", "INTOLERABLE") {
			return true
		}
	}
	return false
}

func asbestosUnsatisfactory(rec *Record) bool {
	for _, f := range rec.FindingsOfKind(KindMaterial) {
		if containsAnyPhrase(f.Condition, "POOR", "DAMAGED") || containsAnyPhrase(f.Risk, "HIGH") {
			return true
		}
	}
	return false
}

func legionellaUnsatisfactory(rec *Record) bool {
	if containsAnyPhrase(rec.RiskLevel, "HIGH", "IMMEDIATE") {
		return true
	}
	for _, f := range rec.FindingsOfKind(KindRecommendation) {
		if containsAnyPhrase(f.Priority, "IMMEDIATE", "HIGH") {
			return true
		}
	}
	return false
}

func liftUnsatisfactory(rec *Record) bool {
	if rec.SafeToOperate != nil && !*rec.SafeToOperate {
		return true
	}
	for _, f := range rec.FindingsOfKind(KindDefect) {
		if strings.EqualFold(strings.TrimSpace(f.Category), "A") {
			return true
		}
	}
	return false
}

func genericUnsatisfactory(rec *Record) bool {
	if containsAnyPhrase(rec.RiskLevel, "HIGH", "SUBSTANTIAL", "INTOLERABLE", "CRITICAL") {
		return true
	}
	for _, f := range rec.FindingsOfKind(KindDefect) {
		if containsAnyPhrase(f.Classification, "IMMEDIATELY DANGEROUS", "CRITICAL", "DANGER") {
			return true
		}
		if containsAnyToken(f.Classification, "ID", "A", "C1") {
			return true
		}
	}
	return false
}

// containsAnyPhrase reports whether s (uppercased) contains any needle.
func containsAnyPhrase(s string, phrases ...string) bool {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if norm == "" {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

// containsAnyToken matches short codes on word boundaries so that "AR" does
// not fire on "CARBON".
func containsAnyToken(s string, tokens ...string) bool {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
	})
	for _, f := range fields {
		for _, t := range tokens {
			if f == t {
				return true
			}
		}
	}
	return false
}
