package remediation

import (
	"strings"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
)

// DeriveCode picks the classification code a finding should be filed under,
// applying the per-category conventions of the UK compliance domain.
// Empty means the finding does not warrant an action code.
func DeriveCode(category string, f classify.Finding) string {
	code := strings.ToUpper(strings.TrimSpace(f.Code))

	switch category {
	case classify.CategoryGasSafety:
		return gasCode(code, f)
	case classify.CategoryEICR:
		return eicrCode(code, f)
	case classify.CategoryFireRisk:
		return fraCode(f)
	case classify.CategoryAsbestos:
		return asbestosCode(f)
	case classify.CategoryLegionella:
		return legionellaCode(f)
	case classify.CategoryLiftLoler:
		return liftCode(f)
	}

	switch classify.MapCertificateTypeToCode(category, nil) {
	case "PLAY":
		return scaleCode("PLAY", f, "LOW", "MEDIUM", "HIGH", "CRITICAL")
	case "TREE":
		return treeCode(f)
	case "HHSRS":
		return hhsrsCode(f)
	case "DAMP_MOULD":
		return scaleCode("DAMP", f, "MINOR", "MODERATE", "SEVERE", "CRITICAL")
	case "SPRINKLER":
		return prefixedSeverity("SPRINKLER", f)
	case "AOV":
		return prefixedSeverity("AOV", f)
	case "FIRE_DOOR":
		return prefixedSeverity("FIRE_DOOR", f)
	case "FIRE_ALARM":
		return prefixedSeverity("FIRE_ALARM", f)
	case "EMLT":
		return prefixedSeverity("EMLT", f)
	case "LIFT", "LOLER", "STAIRLIFT", "HOIST":
		return liftCode(f)
	}

	// Already-canonical codes pass through.
	if code != "" {
		return code
	}
	if f.Classification != "" || f.Description != "" {
		return "GENERAL"
	}
	return ""
}

func gasCode(code string, f classify.Finding) string {
	for _, candidate := range []string{code, strings.ToUpper(f.Classification)} {
		switch {
		case tokenIn(candidate, "ID") || strings.Contains(candidate, "IMMEDIATELY DANGEROUS"):
			return "ID"
		case tokenIn(candidate, "AR") || strings.Contains(candidate, "AT RISK"):
			return "AR"
		case tokenIn(candidate, "NCS") || strings.Contains(candidate, "NOT TO CURRENT STANDARD"):
			return "NCS"
		}
	}
	if f.Description != "" {
		return "AR"
	}
	return ""
}

func eicrCode(code string, f classify.Finding) string {
	for _, candidate := range []string{code, strings.ToUpper(f.Classification)} {
		switch {
		case tokenIn(candidate, "C1"):
			return "C1"
		case tokenIn(candidate, "C2"):
			return "C2"
		case tokenIn(candidate, "C3"):
			return "C3"
		case tokenIn(candidate, "FI"):
			return "FI"
		}
	}
	return ""
}

func fraCode(f classify.Finding) string {
	p := strings.ToUpper(f.Priority + " " + f.Risk)
	switch {
	case strings.Contains(p, "INTOLERABLE") || strings.Contains(p, "IMMEDIATE"):
		return "INTOLERABLE"
	case strings.Contains(p, "SUBSTANTIAL") || strings.Contains(p, "HIGH"):
		return "SUBSTANTIAL"
	case strings.Contains(p, "MODERATE") || strings.Contains(p, "MEDIUM"):
		return "MODERATE"
	case strings.Contains(p, "TOLERABLE") || strings.Contains(p, "LOW"):
		return "TOLERABLE"
	case strings.Contains(p, "TRIVIAL"):
		return "TRIVIAL"
	}
	if f.Description != "" {
		return "MODERATE"
	}
	return ""
}

func asbestosCode(f classify.Finding) string {
	r := strings.ToUpper(f.Risk + " " + f.Condition)
	switch {
	case strings.Contains(r, "CRITICAL") || strings.Contains(r, "VERY HIGH"):
		return "ACM_CRITICAL"
	case strings.Contains(r, "HIGH") || strings.Contains(r, "POOR") || strings.Contains(r, "DAMAGED"):
		return "ACM_HIGH"
	case strings.Contains(r, "MEDIUM") || strings.Contains(r, "FAIR"):
		return "ACM_MEDIUM"
	case strings.Contains(r, "LOW") || strings.Contains(r, "GOOD"):
		return "ACM_LOW"
	}
	return ""
}

func legionellaCode(f classify.Finding) string {
	p := strings.ToUpper(f.Priority + " " + f.Risk)
	switch {
	case strings.Contains(p, "OUTBREAK"):
		return "LEG_OUTBREAK"
	case strings.Contains(p, "CRITICAL") || strings.Contains(p, "IMMEDIATE"):
		return "LEG_CRITICAL"
	case strings.Contains(p, "HIGH"):
		return "LEG_HIGH"
	case strings.Contains(p, "MEDIUM") || strings.Contains(p, "MODERATE"):
		return "LEG_MEDIUM"
	case strings.Contains(p, "LOW"):
		return "LEG_LOW"
	}
	if f.Description != "" {
		return "LEG_MEDIUM"
	}
	return ""
}

func liftCode(f classify.Finding) string {
	cat := strings.ToUpper(strings.TrimSpace(f.Category))
	switch cat {
	case "A":
		return "LIFT_CAT_A"
	case "B":
		return "LIFT_CAT_B"
	case "C":
		return "LIFT_CAT_C"
	}
	if f.Description != "" {
		return "LIFT_CAT_B"
	}
	return ""
}

func treeCode(f classify.Finding) string {
	p := strings.ToUpper(f.Priority + " " + f.Risk + " " + f.Condition)
	switch {
	case strings.Contains(p, "DANGEROUS") || strings.Contains(p, "IMMEDIATE"):
		return "TREE_DANGEROUS"
	case strings.Contains(p, "HIGH") || strings.Contains(p, "URGENT"):
		return "TREE_URGENT"
	case strings.Contains(p, "MEDIUM") || strings.Contains(p, "MODERATE"):
		return "TREE_PRIORITY"
	default:
		return "TREE_ROUTINE"
	}
}

func hhsrsCode(f classify.Finding) string {
	p := strings.ToUpper(f.Category + " " + f.Risk + " " + f.Priority)
	switch {
	case strings.Contains(p, "CAT1") || strings.Contains(p, "CATEGORY 1"):
		return "HHSRS_CAT1"
	case strings.Contains(p, "HIGH"):
		return "HHSRS_CAT2_HIGH"
	case strings.Contains(p, "MED"):
		return "HHSRS_CAT2_MED"
	default:
		return "HHSRS_CAT2_LOW"
	}
}

func scaleCode(prefix string, f classify.Finding, low, medium, high, critical string) string {
	p := strings.ToUpper(f.Priority + " " + f.Risk + " " + f.Condition)
	switch {
	case strings.Contains(p, "CRITICAL") || strings.Contains(p, "IMMEDIATE"):
		return prefix + "_" + critical
	case strings.Contains(p, "HIGH") || strings.Contains(p, "SEVERE"):
		return prefix + "_" + high
	case strings.Contains(p, "MEDIUM") || strings.Contains(p, "MODERATE"):
		return prefix + "_" + medium
	default:
		return prefix + "_" + low
	}
}

func prefixedSeverity(prefix string, f classify.Finding) string {
	return scaleCode(prefix, f, "LOW", "MEDIUM", "HIGH", "CRITICAL")
}

func tokenIn(s string, tokens ...string) bool {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
	})
	for _, field := range fields {
		for _, t := range tokens {
			if field == t {
				return true
			}
		}
	}
	return false
}

// defaultSeverity is the built-in severity per code family, used when the
// config row does not override it.
func defaultSeverity(code string) contracts.ActionSeverity {
	c := strings.ToUpper(code)
	switch {
	case c == "ID" || c == "C1" || c == "INTOLERABLE" || c == "LIFT_CAT_A" ||
		c == "ACM_CRITICAL" || c == "LEG_CRITICAL" || c == "LEG_OUTBREAK" ||
		c == "HHSRS_CAT1" || c == "TREE_DANGEROUS" ||
		strings.HasSuffix(c, "_CRITICAL"):
		return contracts.SeverityImmediate
	case c == "AR" || c == "C2" || c == "FI" || c == "SUBSTANTIAL" ||
		c == "LEG_HIGH" || c == "ACM_HIGH" || c == "HHSRS_CAT2_HIGH" ||
		c == "TREE_URGENT" || c == "EPC_G" ||
		strings.HasSuffix(c, "_HIGH") || strings.HasSuffix(c, "_SEVERE"):
		return contracts.SeverityUrgent
	case c == "NCS" || c == "MODERATE" || c == "LEG_MEDIUM" || c == "ACM_MEDIUM" ||
		c == "HHSRS_CAT2_MED" || c == "LIFT_CAT_B" || c == "TREE_PRIORITY" ||
		c == "EPC_F" || strings.HasSuffix(c, "_MEDIUM") || strings.HasSuffix(c, "_MODERATE"):
		return contracts.SeverityRoutine
	default:
		return contracts.SeverityAdvisory
	}
}
