package event

import (
	"encoding/json"
	"strings"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
)

// RuleEvaluatedPayload is the body of a rule.evaluated event.
type RuleEvaluatedPayload struct {
	RuleID                string  `json:"rule_id"`
	APID                  string  `json:"ap_id,omitempty"`
	CheckpointID          string  `json:"checkpoint_id,omitempty"`
	Result                string  `json:"result"`
	TVideoMs              int64   `json:"t_video_ms"`
	InterventionTriggered bool    `json:"intervention_triggered"`
	Confidence            float64 `json:"confidence,omitempty"`
}

// InterventionPayload is the body of an intervention.delivered event.
type InterventionPayload struct {
	InterventionID string `json:"intervention_id"`
	RuleID         string `json:"rule_id"`
	CheckpointID   string `json:"checkpoint_id,omitempty"`
	TVideoMs       int64  `json:"t_video_ms"`
	CommandText    string `json:"command_text"`
}

// OutcomePayload is the body of an outcome.observed event.
type OutcomePayload struct {
	InterventionID          string             `json:"intervention_id"`
	ComplianceDetected      bool               `json:"compliance_detected"`
	ComplianceUnknownReason string             `json:"compliance_unknown_reason,omitempty"`
	UserResponse            string             `json:"user_response,omitempty"`
	ReportedMetrics         map[string]float64 `json:"reported_metrics,omitempty"`
	TVideoMs                int64              `json:"t_video_ms,omitempty"`
}

// NewRuleEvaluated validates and builds a rule.evaluated event.
func NewRuleEvaluated(sessionID, eventID string, payload RuleEvaluatedPayload) (Event, error) {
	sessionID, eventID, err := normalizeIdentity(sessionID, eventID)
	if err != nil {
		return Event{}, err
	}
	payload.RuleID = strings.TrimSpace(payload.RuleID)
	if payload.RuleID == "" {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "rule id is required")
	}
	result, ok := NormalizeResult(payload.Result)
	if !ok {
		return Event{}, apperrors.New(apperrors.CodeEventResultInvalid, "result must be passed, violated, or unknown")
	}
	payload.Result = string(result)
	if payload.TVideoMs < 0 {
		return Event{}, apperrors.New(apperrors.CodeEventTimeInvalid, "t_video must not be negative")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "encode rule evaluation payload", err)
	}
	return Event{
		SessionID:    sessionID,
		EventID:      eventID,
		Kind:         KindRuleEvaluated,
		TVideoMs:     payload.TVideoMs,
		RuleID:       payload.RuleID,
		CheckpointID: strings.TrimSpace(payload.CheckpointID),
		APID:         strings.TrimSpace(payload.APID),
		Result:       result,
		PayloadJSON:  body,
	}, nil
}

// NewIntervention validates and builds an intervention.delivered event.
func NewIntervention(sessionID, eventID string, payload InterventionPayload) (Event, error) {
	sessionID, eventID, err := normalizeIdentity(sessionID, eventID)
	if err != nil {
		return Event{}, err
	}
	payload.InterventionID = strings.TrimSpace(payload.InterventionID)
	if payload.InterventionID == "" {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "intervention id is required")
	}
	payload.RuleID = strings.TrimSpace(payload.RuleID)
	if payload.RuleID == "" {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "rule id is required")
	}
	payload.CommandText = strings.TrimSpace(payload.CommandText)
	if payload.CommandText == "" {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "command text is required")
	}
	if payload.TVideoMs < 0 {
		return Event{}, apperrors.New(apperrors.CodeEventTimeInvalid, "t_video must not be negative")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "encode intervention payload", err)
	}
	return Event{
		SessionID:      sessionID,
		EventID:        eventID,
		Kind:           KindIntervention,
		TVideoMs:       payload.TVideoMs,
		RuleID:         payload.RuleID,
		CheckpointID:   strings.TrimSpace(payload.CheckpointID),
		InterventionID: payload.InterventionID,
		PayloadJSON:    body,
	}, nil
}

// NewOutcome validates and builds an outcome.observed event.
func NewOutcome(sessionID, eventID string, payload OutcomePayload) (Event, error) {
	sessionID, eventID, err := normalizeIdentity(sessionID, eventID)
	if err != nil {
		return Event{}, err
	}
	payload.InterventionID = strings.TrimSpace(payload.InterventionID)
	if payload.InterventionID == "" {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "intervention id is required")
	}
	if payload.TVideoMs < 0 {
		return Event{}, apperrors.New(apperrors.CodeEventTimeInvalid, "t_video must not be negative")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "encode outcome payload", err)
	}
	return Event{
		SessionID:      sessionID,
		EventID:        eventID,
		Kind:           KindOutcome,
		TVideoMs:       payload.TVideoMs,
		InterventionID: payload.InterventionID,
		PayloadJSON:    body,
	}, nil
}

func normalizeIdentity(sessionID, eventID string) (string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", apperrors.New(apperrors.CodeEventPayloadInvalid, "session id is required")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", "", apperrors.New(apperrors.CodeEventIDEmpty, "event id is required")
	}
	return sessionID, eventID, nil
}
