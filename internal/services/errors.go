package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrAdmission rejects a submission before any job record exists.
	ErrAdmission = errors.New("admission rejected")
	// ErrStageFailure marks a stage that returned an error; the job fails.
	ErrStageFailure = errors.New("stage failure")
	// ErrCancelled is the normal outcome of a user cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrConnectionLost is reported client side once reconnect attempts run out.
	ErrConnectionLost = errors.New("connection lost")
	// ErrOrderingConflict rejects a reorder that names stale or unknown jobs.
	ErrOrderingConflict = errors.New("ordering conflict")
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps a classified error to the status code API handlers return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAdmission), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOrderingConflict):
		return http.StatusConflict
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short machine-readable label for the error's marker.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAdmission):
		return "admission"
	case errors.Is(err, ErrStageFailure):
		return "stage_failure"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrOrderingConflict):
		return "ordering_conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "transient"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

type remoteError struct {
	marker  error
	message string
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.marker }

// FromKind rebuilds a classified error from a Kind label and message received
// from the daemon, so errors.Is keeps working across the wire.
func FromKind(kind, message string) error {
	var marker error
	switch kind {
	case "admission":
		marker = ErrAdmission
	case "stage_failure":
		marker = ErrStageFailure
	case "cancelled":
		marker = ErrCancelled
	case "connection_lost":
		marker = ErrConnectionLost
	case "ordering_conflict":
		marker = ErrOrderingConflict
	case "validation":
		marker = ErrValidation
	case "configuration":
		marker = ErrConfiguration
	case "not_found":
		marker = ErrNotFound
	default:
		marker = ErrTransient
	}
	if strings.TrimSpace(message) == "" {
		message = marker.Error()
	}
	return &remoteError{marker: marker, message: message}
}
