package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/louisbranch/outtake.studio/internal/platform/httpx"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/analysis"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
)

// timelinePosition folds the canonical t_video_ms field with its short alias
// from the original UI contract. The canonical field wins when both are set.
func timelinePosition(ms, alias int64) int64 {
	if ms != 0 {
		return ms
	}
	return alias
}

func (h handlers) handleRuleEvaluated(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	var payload struct {
		EventID               string  `json:"event_id"`
		RuleID                string  `json:"rule_id"`
		APID                  string  `json:"ap_id"`
		CheckpointID          string  `json:"checkpoint_id"`
		Result                string  `json:"result"`
		TVideoMs              int64   `json:"t_video_ms"`
		TVideo                int64   `json:"t_video"`
		InterventionTriggered bool    `json:"intervention_triggered"`
		Confidence            float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "request body is not valid json")
		return
	}

	evt, err := h.recorder.RecordRuleEvaluated(r.Context(), sessionID, payload.EventID, event.RuleEvaluatedPayload{
		RuleID:                payload.RuleID,
		APID:                  payload.APID,
		CheckpointID:          payload.CheckpointID,
		Result:                payload.Result,
		TVideoMs:              timelinePosition(payload.TVideoMs, payload.TVideo),
		InterventionTriggered: payload.InterventionTriggered,
		Confidence:            payload.Confidence,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"logged":   true,
		"event_id": evt.EventID,
	})
}

func (h handlers) handleIntervention(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	var payload struct {
		EventID        string `json:"event_id"`
		InterventionID string `json:"intervention_id"`
		RuleID         string `json:"rule_id"`
		CheckpointID   string `json:"checkpoint_id"`
		TVideoMs       int64  `json:"t_video_ms"`
		TVideo         int64  `json:"t_video"`
		CommandText    string `json:"command_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "request body is not valid json")
		return
	}

	evt, err := h.recorder.RecordIntervention(r.Context(), sessionID, payload.EventID, event.InterventionPayload{
		InterventionID: payload.InterventionID,
		RuleID:         payload.RuleID,
		CheckpointID:   payload.CheckpointID,
		TVideoMs:       timelinePosition(payload.TVideoMs, payload.TVideo),
		CommandText:    payload.CommandText,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"logged":          true,
		"event_id":        evt.EventID,
		"intervention_id": evt.InterventionID,
	})
}

func (h handlers) handleOutcome(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	var payload struct {
		EventID                 string             `json:"event_id"`
		InterventionID          string             `json:"intervention_id"`
		ComplianceDetected      bool               `json:"compliance_detected"`
		ComplianceUnknownReason string             `json:"compliance_unknown_reason"`
		UserResponse            string             `json:"user_response"`
		ReportedMetrics         map[string]float64 `json:"reported_metrics"`
		TVideoMs                int64              `json:"t_video_ms"`
		TVideo                  int64              `json:"t_video"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "request body is not valid json")
		return
	}

	outcome := event.OutcomePayload{
		InterventionID:          payload.InterventionID,
		ComplianceDetected:      payload.ComplianceDetected,
		ComplianceUnknownReason: payload.ComplianceUnknownReason,
		UserResponse:            payload.UserResponse,
		ReportedMetrics:         payload.ReportedMetrics,
		TVideoMs:                timelinePosition(payload.TVideoMs, payload.TVideo),
	}
	evt, err := h.recorder.RecordOutcome(r.Context(), sessionID, payload.EventID, outcome)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	// Classify from the stored body so a replayed event ID echoes the
	// classification of the original append, not of this request.
	stored := outcome
	if len(evt.PayloadJSON) > 0 {
		if err := json.Unmarshal(evt.PayloadJSON, &stored); err != nil {
			stored = outcome
		}
	}
	negative, reason := analysis.ClassifyOutcome(stored)
	resp := map[string]any{
		"logged":               true,
		"event_id":             evt.EventID,
		"is_negative_evidence": negative,
	}
	if reason != "" {
		resp["negative_reason"] = reason
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h handlers) handleListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	events, err := h.store.ListEvents(r.Context(), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	entries := make([]eventEntry, 0, len(events))
	for _, evt := range events {
		entries = append(entries, newEventEntry(evt))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     entries,
	})
}

func (h handlers) handleSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	summary, err := h.manager.Summary(r.Context(), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newSummaryResponse(summary))
}

func (h handlers) handleCohortStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.CohortStats(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCohortStatsResponse(stats))
}
