package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/complianceai/certpipe/pkg/contracts"
)

type hmsActionUpdate struct {
	ActionID   string `json:"actionId" validate:"required,max=64"`
	Status     string `json:"status" validate:"required,oneof=IN_PROGRESS COMPLETED CANCELLED"`
	Notes      string `json:"notes" validate:"omitempty,max=2000"`
	CostActual *int64 `json:"costActualPence" validate:"omitempty,min=0"`
}

// handleHMSActions applies a housing-management-system status update to a
// remedial action. The raw body is logged first so failed updates can be
// replayed.
func (s *Server) handleHMSActions(w http.ResponseWriter, r *http.Request) {
	s.handleIncoming(w, r, "action.update", func(ctx *http.Request, body json.RawMessage) error {
		var req hmsActionUpdate
		if err := json.Unmarshal(body, &req); err != nil {
			return badRequestErr("invalid action update body")
		}
		if err := s.validate.Struct(req); err != nil {
			return validationErr(err)
		}
		return s.deps.Actions.UpdateStatus(ctx.Context(), req.ActionID,
			contracts.ActionStatus(req.Status), req.Notes, req.CostActual)
	})
}

type hmsWorkOrder struct {
	ActionID     string `json:"actionId" validate:"required,max=64"`
	WorkOrderRef string `json:"workOrderRef" validate:"required,max=64"`
	Status       string `json:"status" validate:"required,oneof=RAISED COMPLETED CANCELLED"`
	CostActual   *int64 `json:"costActualPence" validate:"omitempty,min=0"`
}

// workOrderStatus maps HMS work-order states onto action workflow states.
var workOrderStatus = map[string]contracts.ActionStatus{
	"RAISED":    contracts.ActionInProgress,
	"COMPLETED": contracts.ActionCompleted,
	"CANCELLED": contracts.ActionCancelled,
}

func (s *Server) handleHMSWorkOrders(w http.ResponseWriter, r *http.Request) {
	s.handleIncoming(w, r, "work_order.update", func(ctx *http.Request, body json.RawMessage) error {
		var req hmsWorkOrder
		if err := json.Unmarshal(body, &req); err != nil {
			return badRequestErr("invalid work order body")
		}
		if err := s.validate.Struct(req); err != nil {
			return validationErr(err)
		}
		notes := fmt.Sprintf("work order %s %s", req.WorkOrderRef, req.Status)
		return s.deps.Actions.UpdateStatus(ctx.Context(), req.ActionID,
			workOrderStatus[req.Status], notes, req.CostActual)
	})
}

// handleIncoming logs the inbound body, applies it, and records the
// processing outcome against the log row.
func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request, eventType string, apply func(*http.Request, json.RawMessage) error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	headers, _ := json.Marshal(map[string]string{
		"Content-Type": r.Header.Get("Content-Type"),
		"User-Agent":   r.Header.Get("User-Agent"),
	})
	logID, err := s.deps.Incoming.LogIncoming(r.Context(), &contracts.IncomingWebhookLog{
		Source:    "HMS",
		EventType: eventType,
		Payload:   body,
		Headers:   headers,
	})
	if err != nil {
		WriteInternal(w, fmt.Errorf("log incoming webhook: %w", err))
		return
	}

	applyErr := apply(r, body)
	markErr := ""
	if applyErr != nil {
		markErr = applyErr.Error()
	}
	if err := s.deps.Incoming.MarkIncomingProcessed(r.Context(), logID, markErr); err != nil {
		s.logger.Error("mark incoming webhook processed", "log", logID, "error", err)
	}

	var problem *clientError
	switch {
	case errors.As(applyErr, &problem):
		WriteBadRequest(w, problem.detail)
	case applyErr != nil:
		WriteInternal(w, applyErr)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "logId": logID})
	}
}

// clientError marks apply failures caused by the caller's payload.
type clientError struct {
	detail string
}

func (e *clientError) Error() string { return e.detail }

func badRequestErr(detail string) error {
	return &clientError{detail: detail}
}

func validationErr(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &clientError{detail: fmt.Sprintf("field %s failed %s validation", verrs[0].Field(), verrs[0].Tag())}
	}
	return &clientError{detail: "invalid request"}
}
