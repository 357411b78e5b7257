package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/handler/http/response"
	"github.com/clinika/attendance-reconciler/internal/pkg/audit"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
	"github.com/clinika/attendance-reconciler/internal/pkg/validator"
	reconcileService "github.com/clinika/attendance-reconciler/internal/service/reconcile"
)

type ReconcileHandler interface {
	Health(w http.ResponseWriter, r *http.Request)
	TriggerRun(w http.ResponseWriter, r *http.Request)
	ListRuns(w http.ResponseWriter, r *http.Request)
	LastRun(w http.ResponseWriter, r *http.Request)
	ListOpen(w http.ResponseWriter, r *http.Request)
	Events(w http.ResponseWriter, r *http.Request)
}

type reconcileHandlerImpl struct {
	runner      *reconcileService.Runner
	attendances attendance.Repository
	hub         *audit.Hub
	clock       clock.Clock
	storeDriver string
}

func NewReconcileHandler(
	runner *reconcileService.Runner,
	attendances attendance.Repository,
	hub *audit.Hub,
	clk clock.Clock,
	storeDriver string,
) ReconcileHandler {
	return &reconcileHandlerImpl{
		runner:      runner,
		attendances: attendances,
		hub:         hub,
		clock:       clk,
		storeDriver: storeDriver,
	}
}

// Health implements ReconcileHandler.
func (h *reconcileHandlerImpl) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]interface{}{
		"status":       "ok",
		"store_driver": h.storeDriver,
		"civil_time":   h.clock.Now().Format(time.RFC3339),
	})
}

type triggerRunRequest struct {
	Mode         string `json:"mode"`
	AsOf         string `json:"as_of,omitempty"`
	LookbackDays int    `json:"lookback_days,omitempty"`
	Policy       string `json:"policy,omitempty"`
}

func (req triggerRunRequest) validate() (domain.RunRequest, string, error) {
	var errs validator.ValidationErrors

	mode := req.Mode
	if validator.IsEmpty(mode) {
		mode = string(domain.ModeDryRun)
	}
	if !validator.IsInSlice(mode, []string{string(domain.ModeDryRun), string(domain.ModeLive)}) {
		errs = append(errs, validator.ValidationError{Field: "mode", Message: "must be dry_run or live"})
	}

	policy := req.Policy
	if validator.IsEmpty(policy) {
		policy = reconcileService.PolicyCheckoutTolerance
	}
	if !validator.IsInSlice(policy, []string{reconcileService.PolicyCheckoutTolerance, reconcileService.PolicyAbandonedSession}) {
		errs = append(errs, validator.ValidationError{Field: "policy", Message: "must be checkout_tolerance or abandoned_session"})
	}

	var asOf time.Time
	if !validator.IsEmpty(req.AsOf) {
		parsed, ok := validator.IsValidDateTime(req.AsOf)
		if !ok {
			errs = append(errs, validator.ValidationError{Field: "as_of", Message: "must be an RFC3339 timestamp"})
		} else {
			asOf = parsed
		}
	}

	if req.LookbackDays < 0 {
		errs = append(errs, validator.ValidationError{Field: "lookback_days", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return domain.RunRequest{}, "", errs
	}
	return domain.RunRequest{
		Mode:         domain.Mode(mode),
		AsOf:         asOf,
		LookbackDays: req.LookbackDays,
	}, policy, nil
}

// TriggerRun implements ReconcileHandler.
func (h *reconcileHandlerImpl) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode run request", "error", err)
			response.BadRequest(w, "Invalid request format", nil)
			return
		}
	}

	runReq, policy, err := req.validate()
	if err != nil {
		response.HandleError(w, err)
		return
	}

	var summary domain.RunSummary
	switch policy {
	case reconcileService.PolicyAbandonedSession:
		summary, err = h.runner.SweepAbandoned(r.Context(), runReq)
	default:
		summary, err = h.runner.Run(r.Context(), runReq)
	}
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Reconciliation run completed", summary)
}

// ListRuns implements ReconcileHandler.
func (h *reconcileHandlerImpl) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.runner.History()
	response.Success(w, map[string]interface{}{
		"count": len(runs),
		"items": runs,
	})
}

// LastRun implements ReconcileHandler.
func (h *reconcileHandlerImpl) LastRun(w http.ResponseWriter, r *http.Request) {
	last := h.runner.LastRun()
	if last == nil {
		response.NotFound(w, "No reconciliation run recorded yet")
		return
	}
	response.Success(w, last)
}

type openAttendanceItem struct {
	ID              string     `json:"id"`
	WorkerID        string     `json:"worker_id"`
	WorkerName      *string    `json:"worker_name,omitempty"`
	CalendarDate    string     `json:"calendar_date"`
	ShiftTemplateID *string    `json:"shift_template_id,omitempty"`
	RawShiftStart   *string    `json:"raw_shift_start,omitempty"`
	RawShiftEnd     *string    `json:"raw_shift_end,omitempty"`
	CheckIn         *time.Time `json:"check_in,omitempty"`
}

// ListOpen implements ReconcileHandler.
func (h *reconcileHandlerImpl) ListOpen(w http.ResponseWriter, r *http.Request) {
	asOf := h.clock.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, ok := validator.IsValidDateTime(raw)
		if !ok {
			response.BadRequest(w, "as_of must be an RFC3339 timestamp", nil)
			return
		}
		asOf = parsed
	}

	lookbackDays := 0
	if raw := r.URL.Query().Get("lookback_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.BadRequest(w, "lookback_days must be a non-negative integer", nil)
			return
		}
		lookbackDays = parsed
	}

	records, err := h.attendances.ListOpen(r.Context(), asOf, lookbackDays)
	if err != nil {
		slog.Error("failed to list open attendances", "error", err)
		response.HandleError(w, err)
		return
	}

	items := make([]openAttendanceItem, 0, len(records))
	for _, rec := range records {
		items = append(items, openAttendanceItem{
			ID:              rec.ID,
			WorkerID:        rec.WorkerID,
			WorkerName:      rec.WorkerName,
			CalendarDate:    rec.CalendarDate.Format("2006-01-02"),
			ShiftTemplateID: rec.ShiftTemplateID,
			RawShiftStart:   rec.RawShiftStart,
			RawShiftEnd:     rec.RawShiftEnd,
			CheckIn:         rec.CheckIn,
		})
	}

	response.Success(w, map[string]interface{}{
		"as_of": asOf.Format(time.RFC3339),
		"count": len(items),
		"items": items,
	})
}

// Events implements ReconcileHandler. Streams auto-close audit events as
// server-sent events until the client disconnects.
func (h *reconcileHandlerImpl) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalServerError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to marshal audit event", "error", err)
				continue
			}
			if _, err := w.Write([]byte("event: " + ev.Type + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
