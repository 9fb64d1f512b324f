// Package classify maps free-text certificate descriptions onto canonical
// codes, determines the compliance outcome from extracted data, and
// normalises the loosely shaped JSON the extraction tiers produce.
package classify

import (
	"log/slog"
	"strings"
)

// CodeUnknown is returned for certificate-type strings no rule matches.
const CodeUnknown = "UNKNOWN"

// typeRule is one ordered substring rule. The first rule whose any-of
// needles appear in the normalised input wins.
type typeRule struct {
	code    string
	needles []string
}

// Ordered mapping table from free-text certificate-type strings to the
// canonical code set. Each canonical code matches itself first, which keeps
// the mapping idempotent.
var typeRules = []typeRule{
	{"GAS_SAFETY", []string{"GAS_SAFETY", "GAS SAFETY", "LGSR", "CP12", "LANDLORD GAS"}},
	{"GAS_SVC", []string{"GAS_SVC", "GAS SERVICE", "BOILER SERVICE"}},
	{"OIL", []string{"OIL FIRING", "OFTEC", "OIL BOILER"}},
	{"LPG", []string{"LPG"}},
	{"EICR", []string{"EICR", "ELECTRICAL INSTALLATION CONDITION"}},
	{"ELEC", []string{"ELEC", "ELECTRICAL CERT", "MINOR WORKS", "EIC"}},
	{"PAT", []string{"PAT", "PORTABLE APPLIANCE"}},
	{"EMLT", []string{"EMLT", "EMERGENCY LIGHT"}},
	{"EPC", []string{"EPC", "ENERGY PERFORMANCE"}},
	{"SAP", []string{"SAP "}},
	{"DEC", []string{"DISPLAY ENERGY", "DEC "}},
	{"FRA", []string{"FRA", "FIRE RISK"}},
	{"FRAEW", []string{"FRAEW", "EXTERNAL WALL"}},
	{"FIRE_ALARM", []string{"FIRE_ALARM", "FIRE ALARM", "BS 5839", "BS5839"}},
	{"FIRE_EXT", []string{"FIRE_EXT", "FIRE EXTINGUISH"}},
	{"FIRE_DOOR", []string{"FIRE_DOOR", "FIRE DOOR"}},
	{"SMOKE_CO", []string{"SMOKE_CO", "SMOKE DETECTOR", "CARBON MONOXIDE", "CO ALARM", "SMOKE ALARM"}},
	{"AOV", []string{"AOV", "AUTOMATIC OPENING VENT", "SMOKE VENT"}},
	{"SPRINKLER", []string{"SPRINKLER"}},
	{"LEG_RA", []string{"LEG_RA", "LEGIONELLA RISK", "LEGIONELLA ASSESSMENT", "L8"}},
	{"LEG_MONITOR", []string{"LEG_MONITOR", "LEGIONELLA MONITOR", "WATER TEMPERATURE MONITOR"}},
	{"WATER_TANK", []string{"WATER_TANK", "WATER TANK", "TANK INSPECTION"}},
	{"TMV", []string{"TMV", "THERMOSTATIC MIXING"}},
	{"ASB_SURVEY", []string{"ASB_SURVEY", "ASBESTOS SURVEY", "ASBESTOS REFURB", "ASBESTOS DEMOLITION"}},
	{"ASB_MGMT", []string{"ASB_MGMT", "ASBESTOS MANAGEMENT", "ASBESTOS RE-INSPECTION", "ASBESTOS REINSPECTION"}},
	{"LOLER", []string{"LOLER", "THOROUGH EXAMINATION"}},
	{"LIFT", []string{"LIFT SERVICE", "LIFT MAINTENANCE", "PASSENGER LIFT", "LIFT"}},
	{"STAIRLIFT", []string{"STAIRLIFT", "STAIR LIFT"}},
	{"HOIST", []string{"HOIST"}},
	{"STRUCT", []string{"STRUCT", "STRUCTURAL"}},
	{"BLDG_SAFETY", []string{"BLDG_SAFETY", "BUILDING SAFETY CASE", "SAFETY CASE"}},
	{"BSR_REG", []string{"BSR_REG", "BSR REGISTRATION", "BUILDING SAFETY REGULATOR"}},
	{"FACADE", []string{"FACADE", "CLADDING"}},
	{"ROOF", []string{"ROOF"}},
	{"PLAY", []string{"PLAY", "PLAYGROUND"}},
	{"TREE", []string{"TREE"}},
	{"CCTV", []string{"CCTV"}},
	{"ACCESS_CTRL", []string{"ACCESS_CTRL", "ACCESS CONTROL", "DOOR ENTRY"}},
	{"HHSRS", []string{"HHSRS", "HOUSING HEALTH AND SAFETY"}},
	{"DAMP_MOULD", []string{"DAMP_MOULD", "DAMP", "MOULD", "MOLD"}},
	{"VENTILATION", []string{"VENTILATION", "EXTRACT FAN"}},
	{"DDA", []string{"DDA", "DISABILITY ACCESS", "EQUALITY ACT"}},
	{"PEST", []string{"PEST"}},
	{"WASTE", []string{"WASTE"}},
	{"COMM_CLEAN", []string{"COMM_CLEAN", "COMMUNAL CLEAN"}},
}

// MapCertificateTypeToCode maps a free-text certificate-type string onto the
// canonical code set. Unknown strings map to UNKNOWN with a warning.
// The mapping is idempotent: canonical codes map to themselves.
func MapCertificateTypeToCode(raw string, logger *slog.Logger) string {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	if norm == "" {
		return CodeUnknown
	}
	for _, rule := range typeRules {
		if norm == rule.code {
			return rule.code
		}
	}
	for _, rule := range typeRules {
		for _, needle := range rule.needles {
			if strings.Contains(norm, needle) {
				return rule.code
			}
		}
	}
	if logger != nil {
		logger.Warn("unmapped certificate type", "value", raw)
	}
	return CodeUnknown
}

// The eight user-selectable certificate categories.
const (
	CategoryGasSafety  = "GAS_SAFETY"
	CategoryEICR       = "EICR"
	CategoryEPC        = "EPC"
	CategoryFireRisk   = "FIRE_RISK_ASSESSMENT"
	CategoryLegionella = "LEGIONELLA_ASSESSMENT"
	CategoryAsbestos   = "ASBESTOS_SURVEY"
	CategoryLiftLoler  = "LIFT_LOLER"
	CategoryOther      = "OTHER"
)

// documentTypeHints maps substrings of a model-reported documentType onto
// one of the eight categories. Looser than the canonical table; used when
// the uploader selected OTHER.
var documentTypeHints = []struct {
	category string
	needles  []string
}{
	{CategoryGasSafety, []string{"GAS"}},
	{CategoryEICR, []string{"EICR", "ELECTRIC"}},
	{CategoryFireRisk, []string{"FIRE RISK", "FRA"}},
	{CategoryLegionella, []string{"LEGIONELLA", "WATER HYGIENE", "L8"}},
	{CategoryAsbestos, []string{"ASBESTOS"}},
	{CategoryLiftLoler, []string{"LOLER", "LIFT", "THOROUGH EXAMINATION"}},
	{CategoryEPC, []string{"ENERGY PERFORMANCE", "EPC"}},
}

// MapDocumentTypeToCategory maps the model's free-text documentType onto one
// of the eight user-facing categories, or OTHER.
func MapDocumentTypeToCategory(documentType string) string {
	norm := strings.ToUpper(strings.TrimSpace(documentType))
	if norm == "" {
		return CategoryOther
	}
	for _, hint := range documentTypeHints {
		for _, needle := range hint.needles {
			if strings.Contains(norm, needle) {
				return hint.category
			}
		}
	}
	return CategoryOther
}

// MapApplianceOutcome converts short appliance-outcome tokens onto
// PASS/FAIL/N-A. Unknown tokens yield nil with a warning.
func MapApplianceOutcome(token string, logger *slog.Logger) *string {
	norm := strings.ToUpper(strings.TrimSpace(token))
	var out string
	switch norm {
	case "PASS", "SATISFACTORY", "SAFE":
		out = "PASS"
	case "ID", "AR", "NCS", "C1", "C2", "CONDEMNED", "FI":
		out = "FAIL"
	case "N/A", "SERVICE ONLY", "NOT TESTED":
		out = "N/A"
	default:
		if logger != nil {
			logger.Warn("unknown appliance outcome token", "value", token)
		}
		return nil
	}
	return &out
}
