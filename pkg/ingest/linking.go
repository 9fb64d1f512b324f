package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
)

// componentTypeFor maps a certificate category onto the component type its
// inspected equipment belongs to.
var componentTypeFor = map[string]string{
	classify.CategoryGasSafety:  "HEATING",
	classify.CategoryEICR:       "ELECTRICAL",
	classify.CategoryFireRisk:   "FIRE_SAFETY",
	classify.CategoryLegionella: "WATER",
	classify.CategoryAsbestos:   "STRUCTURE",
	classify.CategoryLiftLoler:  "LIFT",
	classify.CategoryEPC:        "ENERGY",
}

// linkRelatedRecords auto-creates component rows for identified appliances
// and a contractor row from the issuer block. Linking is best-effort: a
// failure here never fails the ingestion.
func (c *Coordinator) linkRelatedRecords(ctx context.Context, job *contracts.IngestionJob, certID, category, organisationID string, rec *classify.Record) {
	typeCode, ok := componentTypeFor[category]
	if ok {
		for _, a := range rec.Appliances {
			name := applianceName(a)
			if name == "" {
				continue
			}
			if _, err := c.deps.Properties.UpsertComponent(ctx, &contracts.Component{
				PropertyID:    job.PropertyID,
				CertificateID: certID,
				TypeCode:      typeCode,
				Name:          name,
				Make:          a.Make,
				Model:         a.Model,
				SerialNumber:  a.SerialNumber,
				Location:      a.Location,
			}); err != nil {
				c.logger.Warn("component upsert failed", "property", job.PropertyID, "name", name, "error", err)
			}
		}
	}

	if rec.Issuer == nil || strings.TrimSpace(rec.Issuer.Name) == "" {
		return
	}
	if _, err := c.deps.Properties.UpsertContractor(ctx, &contracts.Contractor{
		OrganisationID:     organisationID,
		Name:               strings.TrimSpace(rec.Issuer.Name),
		RegistrationNumber: rec.Issuer.RegistrationNumber,
		RegistrationBody:   rec.Issuer.RegistrationBody,
		Email:              rec.Issuer.Email,
		Phone:              rec.Issuer.Phone,
	}); err != nil {
		c.logger.Warn("contractor upsert failed", "name", rec.Issuer.Name, "error", err)
	}
}

func applianceName(a classify.Appliance) string {
	if a.Type != "" {
		return a.Type
	}
	name := strings.TrimSpace(strings.Join([]string{a.Make, a.Model}, " "))
	return name
}

// completionPayload is the data block of the ingestion.completed webhook
// event and the detail of the SSE frame.
type completionPayload struct {
	JobID          string            `json:"jobId"`
	CertificateID  string            `json:"certificateId"`
	PropertyID     string            `json:"propertyId"`
	Category       string            `json:"category"`
	Outcome        contracts.Outcome `json:"outcome"`
	RequiresReview bool              `json:"requiresReview"`
	ActionCount    int               `json:"actionCount"`
	CompletedAt    time.Time         `json:"completedAt"`
}

func (c *Coordinator) notifyComplete(ctx context.Context, job *contracts.IngestionJob, certID, category string, outcome contracts.Outcome, requiresReview bool, actionCount int) {
	detail, err := json.Marshal(completionPayload{
		JobID:          job.ID,
		CertificateID:  certID,
		PropertyID:     job.PropertyID,
		Category:       category,
		Outcome:        outcome,
		RequiresReview: requiresReview,
		ActionCount:    actionCount,
		CompletedAt:    c.now().UTC(),
	})
	if err != nil {
		c.logger.Error("marshal completion payload", "job", job.ID, "error", err)
		return
	}

	if job.WebhookURL != "" {
		if _, err := c.deps.Events.StageEvent(ctx, &contracts.WebhookEvent{
			EventType:  contracts.WebhookIngestionCompleted,
			EntityType: "certificate",
			EntityID:   certID,
			Payload:    detail,
		}); err != nil {
			c.logger.Error("stage completion event", "job", job.ID, "error", err)
		}
	}

	c.deps.Publisher.Publish(contracts.LifecycleEvent{
		Type:          contracts.EventExtractionComplete,
		CertificateID: certID,
		PropertyID:    job.PropertyID,
		Status:        string(contracts.CertStatusNeedsReview),
		Detail:        detail,
	})
}

func (c *Coordinator) notifyFailed(ctx context.Context, job *contracts.IngestionJob, certID string, cause error) {
	detail, err := json.Marshal(map[string]any{
		"jobId":         job.ID,
		"certificateId": certID,
		"propertyId":    job.PropertyID,
		"attemptCount":  job.AttemptCount,
		"error":         cause.Error(),
	})
	if err != nil {
		return
	}

	if job.WebhookURL != "" {
		if _, err := c.deps.Events.StageEvent(ctx, &contracts.WebhookEvent{
			EventType:  contracts.WebhookIngestionFailed,
			EntityType: "ingestion_job",
			EntityID:   job.ID,
			Payload:    detail,
		}); err != nil {
			c.logger.Error("stage failure event", "job", job.ID, "error", err)
		}
	}

	c.deps.Publisher.Publish(contracts.LifecycleEvent{
		Type:          contracts.EventExtractionFailed,
		CertificateID: certID,
		PropertyID:    job.PropertyID,
		Status:        string(contracts.IngestionFailed),
		Detail:        detail,
	})
}
