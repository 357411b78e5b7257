package response

import (
	"errors"
	"net/http"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	"github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/schedule"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
	"github.com/clinika/attendance-reconciler/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	case errors.Is(err, attendance.ErrRecordNotFound):
		NotFound(w, "Attendance record not found")
	case errors.Is(err, schedule.ErrShiftTemplateNotFound):
		NotFound(w, "Shift template not found")
	case errors.Is(err, worker.ErrWorkerNotFound):
		NotFound(w, "Worker not found")
	case errors.Is(err, reconcile.ErrConfiguration):
		BadRequest(w, err.Error(), nil)
	case errors.Is(err, reconcile.ErrShiftParse):
		BadRequest(w, err.Error(), nil)

	default:
		InternalServerError(w, "An unexpected error occurred")
	}
}
