package classify

import (
	"encoding/json"
	"strings"
	"time"
)

// FindingKind tags where in the source document a finding came from.
type FindingKind string

const (
	KindDefect         FindingKind = "defect"
	KindObservation    FindingKind = "observation"
	KindFinding        FindingKind = "finding"
	KindRecommendation FindingKind = "recommendation"
	KindMaterial       FindingKind = "material"
	KindHazard         FindingKind = "hazard"
)

// Finding is one defect/observation/finding/recommendation/material/hazard
// in canonical form.
type Finding struct {
	Kind           FindingKind `json:"kind"`
	Code           string      `json:"code,omitempty"`
	Classification string      `json:"classification,omitempty"`
	Priority       string      `json:"priority,omitempty"`
	Risk           string      `json:"risk,omitempty"`
	Condition      string      `json:"condition,omitempty"`
	Category       string      `json:"category,omitempty"`
	Description    string      `json:"description,omitempty"`
	Location       string      `json:"location,omitempty"`
	Timescale      string      `json:"timescale,omitempty"`
}

// Appliance is one inspected appliance or item of equipment.
type Appliance struct {
	Type         string `json:"type,omitempty"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Location     string `json:"location,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Safe         *bool  `json:"applianceSafe,omitempty"`
}

// Issuer unifies engineer/inspector/assessor/surveyor/examiner blocks.
type Issuer struct {
	Name               string `json:"name,omitempty"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
	RegistrationBody   string `json:"registrationBody,omitempty"`
	Qualification      string `json:"qualification,omitempty"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
}

// Record is the canonical shape every tier's JSON is normalised into.
// Raw keeps the decoded ingress map for rule expressions.
type Record struct {
	DocumentType      string         `json:"documentType,omitempty"`
	CertificateNumber string         `json:"certificateNumber,omitempty"`
	IssueDate         *time.Time     `json:"issueDate,omitempty"`
	ExpiryDate        *time.Time     `json:"expiryDate,omitempty"`
	Address           Address        `json:"address"`
	Issuer            *Issuer        `json:"issuer,omitempty"`
	Appliances        []Appliance    `json:"appliances,omitempty"`
	Findings          []Finding      `json:"findings,omitempty"`
	RiskLevel         string         `json:"riskLevel,omitempty"`
	OverallOutcome    string         `json:"overallOutcome,omitempty"`
	SafeToOperate     *bool          `json:"safeToOperate,omitempty"`
	C1Count           int            `json:"c1Count,omitempty"`
	C2Count           int            `json:"c2Count,omitempty"`
	C3Count           int            `json:"c3Count,omitempty"`
	FICount           int            `json:"fiCount,omitempty"`
	CurrentRating     string         `json:"currentRating,omitempty"`
	Raw               map[string]any `json:"-"`
}

// Normalise decodes one tier's raw JSON into the canonical record, accepting
// the superset of field names the tiers are known to emit.
func Normalise(raw json.RawMessage) *Record {
	rec := &Record{}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return rec
	}
	rec.Raw = m

	rec.DocumentType = str(m, "documentType", "document_type", "type")
	rec.CertificateNumber = str(m, "certificateNumber", "certificate_number", "certNumber", "reportNumber")
	rec.IssueDate = date(m, "issueDate", "issue_date", "assessmentDate", "surveyDate", "examinationDate", "inspectionDate", "dateOfInspection")
	rec.ExpiryDate = date(m, "expiryDate", "expiry_date", "nextInspectionDate", "nextExaminationDate", "reviewDate", "nextDueDate")
	rec.Address = NormaliseAddress(m["address"])
	rec.RiskLevel = str(m, "riskLevel", "risk_level", "overallRisk")
	rec.OverallOutcome = str(m, "overallOutcome", "overallAssessment", "overall_outcome", "outcome")
	rec.CurrentRating = str(m, "currentRating", "energyRating", "rating")
	rec.C1Count = count(m, "c1Count")
	rec.C2Count = count(m, "c2Count")
	rec.C3Count = count(m, "c3Count")
	rec.FICount = count(m, "fiCount")

	if b, ok := m["safeToOperate"].(bool); ok {
		rec.SafeToOperate = &b
	}

	for _, key := range []string{"engineer", "inspector", "assessor", "surveyor", "examiner", "issuer"} {
		if obj, ok := m[key].(map[string]any); ok {
			rec.Issuer = &Issuer{
				Name:               str(obj, "name", "fullName"),
				RegistrationNumber: str(obj, "registrationNumber", "gasSafeNumber", "registration", "accreditation", "licenseNumber"),
				RegistrationBody:   str(obj, "registrationBody", "scheme"),
				Qualification:      str(obj, "qualification"),
				Email:              str(obj, "email"),
				Phone:              str(obj, "phone", "telephone"),
			}
			break
		}
	}

	rec.Appliances = appliances(m, "appliances", "equipment", "items")
	rec.Findings = append(rec.Findings, findings(m, "defects", KindDefect)...)
	rec.Findings = append(rec.Findings, findings(m, "observations", KindObservation)...)
	rec.Findings = append(rec.Findings, findings(m, "findings", KindFinding)...)
	rec.Findings = append(rec.Findings, findings(m, "recommendations", KindRecommendation)...)
	rec.Findings = append(rec.Findings, findings(m, "materials", KindMaterial)...)
	rec.Findings = append(rec.Findings, findings(m, "hazards", KindHazard)...)

	return rec
}

// FindingsOfKind filters the record's findings.
func (r *Record) FindingsOfKind(kinds ...FindingKind) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		for _, k := range kinds {
			if f.Kind == k {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func appliances(m map[string]any, keys ...string) []Appliance {
	for _, key := range keys {
		switch v := m[key].(type) {
		case []any:
			out := make([]Appliance, 0, len(v))
			for _, item := range v {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				out = append(out, applianceFrom(obj))
			}
			if len(out) > 0 {
				return out
			}
		case map[string]any:
			return []Appliance{applianceFrom(v)}
		}
	}
	return nil
}

func applianceFrom(obj map[string]any) Appliance {
	a := Appliance{
		Type:         str(obj, "type", "applianceType", "description"),
		Make:         str(obj, "make", "manufacturer"),
		Model:        str(obj, "model"),
		SerialNumber: str(obj, "serialNumber", "serial_number", "serialNo"),
		Location:     str(obj, "location"),
		Outcome:      str(obj, "outcome", "status", "result"),
	}
	if mapped := MapApplianceOutcome(a.Outcome, nil); mapped != nil {
		a.Outcome = *mapped
	}
	if b, ok := obj["applianceSafe"].(bool); ok {
		a.Safe = &b
	} else if b, ok := obj["safe"].(bool); ok {
		a.Safe = &b
	}
	return a
}

func findings(m map[string]any, key string, kind FindingKind) []Finding {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Finding, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, Finding{Kind: kind, Description: s})
			}
			continue
		}
		out = append(out, Finding{
			Kind:           kind,
			Code:           str(obj, "code"),
			Classification: str(obj, "classification", "class"),
			Priority:       str(obj, "priority"),
			Risk:           str(obj, "risk", "riskLevel"),
			Condition:      str(obj, "condition"),
			Category:       str(obj, "category", "defectCategory"),
			Description:    str(obj, "description", "detail", "observation", "material"),
			Location:       str(obj, "location"),
			Timescale:      str(obj, "timescale"),
		})
	}
	return out
}

func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func count(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n := 0
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return 0
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
	"02-01-2006",
	"2 January 2006",
	"January 2, 2006",
}

func date(m map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		s, ok := m[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		s = strings.TrimSpace(s)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}
