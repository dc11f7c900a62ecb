// Package errors provides structured error handling with HTTP status mapping.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionVideoIDEmpty            Code = "SESSION_VIDEO_ID_EMPTY"
	CodeSessionInvalidStatusTransition Code = "SESSION_INVALID_STATUS_TRANSITION"
	CodeSessionEnded                   Code = "SESSION_ENDED"
	CodeSessionInvalidCohortRatio      Code = "SESSION_INVALID_COHORT_RATIO"
	CodeSessionInvalidEndReason        Code = "SESSION_INVALID_END_REASON"

	// Capture errors
	CodeCaptureDeviceBusy  Code = "CAPTURE_DEVICE_BUSY"
	CodeCaptureDeviceEmpty Code = "CAPTURE_DEVICE_EMPTY"

	// Event errors
	CodeEventIDEmpty        Code = "EVENT_ID_EMPTY"
	CodeEventKindInvalid    Code = "EVENT_KIND_INVALID"
	CodeEventTimeInvalid    Code = "EVENT_TIME_INVALID"
	CodeEventResultInvalid  Code = "EVENT_RESULT_INVALID"
	CodeEventPayloadInvalid Code = "EVENT_PAYLOAD_INVALID"

	// Checklist rule errors
	CodeRuleUnknown  Code = "RULE_UNKNOWN"
	CodeRuleDisabled Code = "RULE_DISABLED"

	// Intervention errors
	CodeInterventionOnControl Code = "INTERVENTION_ON_CONTROL"
	CodeInterventionUnknown   Code = "INTERVENTION_UNKNOWN"

	// Outcome errors
	CodeOutcomeWithoutIntervention Code = "OUTCOME_WITHOUT_INTERVENTION"

	// Stream grant errors
	CodeStreamGrantInvalid  Code = "STREAM_GRANT_INVALID"
	CodeStreamGrantExpired  Code = "STREAM_GRANT_EXPIRED"
	CodeStreamGrantMismatch Code = "STREAM_GRANT_MISMATCH"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeActiveSessionExists Code = "ACTIVE_SESSION_EXISTS"

	// Rate limiting errors
	CodeRateLimited Code = "RATE_LIMITED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeSessionVideoIDEmpty,
		CodeSessionInvalidCohortRatio,
		CodeSessionInvalidEndReason,
		CodeCaptureDeviceEmpty,
		CodeEventIDEmpty,
		CodeEventKindInvalid,
		CodeEventTimeInvalid,
		CodeEventResultInvalid,
		CodeEventPayloadInvalid,
		CodeRuleUnknown,
		CodeRuleDisabled:
		return http.StatusBadRequest

	// Conflict - state doesn't allow the operation
	case CodeSessionInvalidStatusTransition,
		CodeSessionEnded,
		CodeCaptureDeviceBusy,
		CodeActiveSessionExists,
		CodeInterventionOnControl,
		CodeInterventionUnknown,
		CodeOutcomeWithoutIntervention:
		return http.StatusConflict

	// Unauthorized - grant validation failures
	case CodeStreamGrantInvalid,
		CodeStreamGrantExpired,
		CodeStreamGrantMismatch:
		return http.StatusUnauthorized

	// Not found - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	case CodeRateLimited:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
