package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/store"
)

// maxUploadBytes bounds the request body; base64 inflates documents by a
// third, so this allows roughly 18 MB of PDF.
const maxUploadBytes = 25 << 20

type ingestionRequest struct {
	PropertyID string `json:"propertyId" validate:"required,max=64"`
	Category   string `json:"category" validate:"required,oneof=GAS_SAFETY EICR EPC FIRE_RISK_ASSESSMENT LEGIONELLA_ASSESSMENT ASBESTOS_SURVEY LIFT_LOLER OTHER"`
	FileName   string `json:"fileName" validate:"required,max=255"`
	MimeType   string `json:"mimeType" validate:"omitempty,max=100"`
	StorageKey string `json:"storageKey" validate:"required_without=FileBase64,omitempty,max=512"`
	FileBase64 string `json:"fileBase64" validate:"required_without=StorageKey,omitempty,base64"`
	WebhookURL string `json:"webhookUrl" validate:"omitempty,url"`
}

func (s *Server) handleCreateIngestion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var req ingestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			WriteBadRequest(w, fmt.Sprintf("field %s failed %s validation", verrs[0].Field(), verrs[0].Tag()))
			return
		}
		WriteBadRequest(w, "invalid request")
		return
	}

	storageKey := req.StorageKey
	if req.FileBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.FileBase64)
		if err != nil {
			WriteBadRequest(w, "fileBase64 is not valid base64")
			return
		}
		storageKey = fmt.Sprintf("uploads/%s/%s-%s", req.PropertyID, uuid.NewString(), req.FileName)
		if err := s.deps.Docs.Put(r.Context(), storageKey, data, req.MimeType); err != nil {
			WriteInternal(w, fmt.Errorf("store uploaded document: %w", err))
			return
		}
	}

	jobID, err := s.deps.Jobs.Create(r.Context(), &contracts.IngestionJob{
		PropertyID: req.PropertyID,
		Category:   req.Category,
		FileName:   req.FileName,
		StorageKey: storageKey,
		MimeType:   req.MimeType,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		WriteInternal(w, fmt.Errorf("create ingestion job: %w", err))
		return
	}

	if _, err := s.deps.Enqueue(r.Context(), jobID); err != nil {
		WriteInternal(w, fmt.Errorf("enqueue ingestion job: %w", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": string(contracts.IngestionPending),
	})
}

func (s *Server) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "ingestion job not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := s.deps.Certs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "certificate not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.deps.Actions.ListByCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if actions == nil {
		actions = []*contracts.RemedialAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) handleApproveCertificate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Certs.Get(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "certificate not found")
		return
	} else if err != nil {
		WriteInternal(w, err)
		return
	}
	if err := s.deps.Certs.ApproveReview(r.Context(), id); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(contracts.CertStatusApproved)})
}
