package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCertificateTypeToCode(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"Landlord Gas Safety Record (CP12)", "GAS_SAFETY"},
		{"EICR", "EICR"},
		{"Electrical Installation Condition Report", "EICR"},
		{"Fire Risk Assessment Type 3", "FRA"},
		{"legionella risk assessment", "LEG_RA"},
		{"Asbestos Refurbishment Survey", "ASB_SURVEY"},
		{"Asbestos Management Plan Review", "ASB_MGMT"},
		{"LOLER Thorough Examination", "LOLER"},
		{"Energy Performance Certificate", "EPC"},
		{"something entirely novel", "UNKNOWN"},
		{"", "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MapCertificateTypeToCode(tc.raw, nil), "raw=%q", tc.raw)
	}
}

func TestMapCertificateTypeToCodeIsIdempotent(t *testing.T) {
	for _, rule := range typeRules {
		assert.Equal(t, rule.code, MapCertificateTypeToCode(rule.code, nil))
	}
}

func TestMapDocumentTypeToCategory(t *testing.T) {
	cases := []struct {
		docType string
		want    string
	}{
		{"Gas Safety Certificate", CategoryGasSafety},
		{"electrical installation condition report", CategoryEICR},
		{"Fire Risk Assessment", CategoryFireRisk},
		{"Water Hygiene (L8) Report", CategoryLegionella},
		{"Passenger Lift Thorough Examination", CategoryLiftLoler},
		{"Energy Performance Certificate", CategoryEPC},
		{"Tenancy Agreement", CategoryOther},
		{"", CategoryOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MapDocumentTypeToCategory(tc.docType), "docType=%q", tc.docType)
	}
}
