package rest

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/analysis"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

type sessionResponse struct {
	SessionID     string           `json:"session_id"`
	PatternID     string           `json:"pattern_id"`
	Mode          string           `json:"mode"`
	Status        string           `json:"status"`
	Assignment    string           `json:"assignment"`
	HoldoutGroup  bool             `json:"holdout_group"`
	Degraded      bool             `json:"degraded,omitempty"`
	Language      string           `json:"language"`
	VoiceStyle    string           `json:"voice_style,omitempty"`
	DeviceID      string           `json:"device_id"`
	EndReason     string           `json:"end_reason,omitempty"`
	ProgressScore float64          `json:"progress_score"`
	LogGaps       int              `json:"log_gaps,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	WebsocketURL  string           `json:"websocket_url,omitempty"`
	StreamGrant   string           `json:"stream_grant,omitempty"`
	Checklist     []checklistEntry `json:"checklist,omitempty"`
}

type checklistEntry struct {
	RuleID string `json:"rule_id"`
	Status string `json:"status"`
}

func newSessionResponse(sess session.Session, checklist []rule.ChecklistItem) sessionResponse {
	resp := sessionResponse{
		SessionID:     sess.ID,
		PatternID:     sess.PatternID,
		Mode:          string(sess.Mode),
		Status:        string(sess.Status),
		Assignment:    string(sess.Assignment),
		HoldoutGroup:  sess.Holdout.IsHoldout(),
		Degraded:      sess.Degraded,
		Language:      sess.Language,
		VoiceStyle:    sess.VoiceStyle,
		DeviceID:      sess.DeviceID,
		EndReason:     string(sess.EndReason),
		ProgressScore: sess.ProgressScore,
		LogGaps:       sess.LogGaps,
		CreatedAt:     sess.CreatedAt,
		ExpiresAt:     sess.ExpiresAt,
		EndedAt:       sess.EndedAt,
		Checklist:     newChecklistEntries(checklist),
	}
	return resp
}

func newChecklistEntries(items []rule.ChecklistItem) []checklistEntry {
	if len(items) == 0 {
		return nil
	}
	entries := make([]checklistEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, checklistEntry{RuleID: item.RuleID, Status: string(item.Status)})
	}
	return entries
}

type eventEntry struct {
	EventID        string          `json:"event_id"`
	Seq            uint64          `json:"seq"`
	Kind           string          `json:"kind"`
	TVideoMs       int64           `json:"t_video_ms"`
	LoggedAt       time.Time       `json:"logged_at"`
	RuleID         string          `json:"rule_id,omitempty"`
	CheckpointID   string          `json:"checkpoint_id,omitempty"`
	APID           string          `json:"ap_id,omitempty"`
	InterventionID string          `json:"intervention_id,omitempty"`
	Result         string          `json:"result,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

func newEventEntry(evt event.Event) eventEntry {
	return eventEntry{
		EventID:        evt.EventID,
		Seq:            evt.Seq,
		Kind:           string(evt.Kind),
		TVideoMs:       evt.TVideoMs,
		LoggedAt:       evt.LoggedAt,
		RuleID:         evt.RuleID,
		CheckpointID:   evt.CheckpointID,
		APID:           evt.APID,
		InterventionID: evt.InterventionID,
		Result:         string(evt.Result),
		Payload:        json.RawMessage(evt.PayloadJSON),
	}
}

type summaryResponse struct {
	SessionID                   string  `json:"session_id"`
	TotalEvents                 int64   `json:"total_events"`
	RulesEvaluated              int64   `json:"rules_evaluated"`
	InterventionsDelivered      int64   `json:"interventions_delivered"`
	OutcomesObserved            int64   `json:"outcomes_observed"`
	InterventionOutcomeJoinRate float64 `json:"intervention_outcome_join_rate"`
	ComplianceUnknownRate       float64 `json:"compliance_unknown_rate"`
	NegativeEvidenceRate        float64 `json:"negative_evidence_rate"`
	LogGaps                     int64   `json:"log_gaps"`
}

func newSummaryResponse(summary analysis.Summary) summaryResponse {
	return summaryResponse{
		SessionID:                   summary.SessionID,
		TotalEvents:                 summary.TotalEvents,
		RulesEvaluated:              summary.RulesEvaluated,
		InterventionsDelivered:      summary.InterventionsDelivered,
		OutcomesObserved:            summary.OutcomesObserved,
		InterventionOutcomeJoinRate: summary.InterventionOutcomeJoinRate,
		ComplianceUnknownRate:       summary.ComplianceUnknownRate,
		NegativeEvidenceRate:        summary.NegativeEvidenceRate,
		LogGaps:                     summary.LogGaps,
	}
}

type cohortStatsResponse struct {
	TotalSessions                  int64   `json:"total_sessions"`
	CoachedSessions                int64   `json:"coached_sessions"`
	ControlSessions                int64   `json:"control_sessions"`
	DegradedSessions               int64   `json:"degraded_sessions"`
	HoldoutSessions                int64   `json:"holdout_sessions"`
	EndedSessions                  int64   `json:"ended_sessions"`
	ControlRatio                   float64 `json:"control_ratio"`
	AvgInterventionOutcomeJoinRate float64 `json:"avg_intervention_outcome_join_rate"`
	AvgComplianceUnknownRate       float64 `json:"avg_compliance_unknown_rate"`
	AvgNegativeEvidenceRate        float64 `json:"avg_negative_evidence_rate"`
	TotalLogGaps                   int64   `json:"total_log_gaps"`
}

func newCohortStatsResponse(stats analysis.CohortStats) cohortStatsResponse {
	return cohortStatsResponse{
		TotalSessions:                  stats.TotalSessions,
		CoachedSessions:                stats.CoachedSessions,
		ControlSessions:                stats.ControlSessions,
		DegradedSessions:               stats.DegradedSessions,
		HoldoutSessions:                stats.HoldoutSessions,
		EndedSessions:                  stats.EndedSessions,
		ControlRatio:                   stats.ControlRatio,
		AvgInterventionOutcomeJoinRate: stats.AvgInterventionOutcomeJoinRate,
		AvgComplianceUnknownRate:       stats.AvgComplianceUnknownRate,
		AvgNegativeEvidenceRate:        stats.AvgNegativeEvidenceRate,
		TotalLogGaps:                   stats.TotalLogGaps,
	}
}
