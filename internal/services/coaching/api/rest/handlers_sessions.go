package rest

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/platform/httpx"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/grant"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/manager"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// healthProbeID is a session ID that never exists; reading it exercises the
// store connection without touching real rows.
const healthProbeID = "health-probe"

func (h handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	if _, err := h.store.GetSession(r.Context(), healthProbeID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		storeStatus = "unavailable"
	}
	status := http.StatusOK
	if storeStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, map[string]any{
		"service": "coaching",
		"store":   storeStatus,
	})
}

func (h handlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PatternID    string `json:"pattern_id"`
		DirectorPack string `json:"director_pack"`
		VideoID      string `json:"video_id"`
		Mode         string `json:"mode"`
		Language     string `json:"language"`
		VoiceStyle   string `json:"voice_style"`
		DeviceID     string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "request body is not valid json")
		return
	}

	// The pattern may arrive under any of its three wire aliases.
	patternID := strings.TrimSpace(payload.PatternID)
	if patternID == "" {
		patternID = strings.TrimSpace(payload.DirectorPack)
	}
	if patternID == "" {
		patternID = strings.TrimSpace(payload.VideoID)
	}

	mode := session.ModeUnspecified
	if strings.TrimSpace(payload.Mode) != "" {
		parsed, ok := session.NormalizeMode(payload.Mode)
		if !ok {
			httpx.WriteJSONError(w, http.StatusBadRequest, "mode is not recognized")
			return
		}
		mode = parsed
	}

	sess, checklist, err := h.manager.CreateSession(r.Context(), manager.CreateParams{
		PatternID:  patternID,
		Mode:       mode,
		Language:   payload.Language,
		VoiceStyle: payload.VoiceStyle,
		DeviceID:   payload.DeviceID,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	resp := newSessionResponse(sess, checklist)
	resp.WebsocketURL = streamPath(sess.ID)
	if h.signerOn {
		token, err := grant.Issue(sess.ID, h.signer)
		if err != nil {
			// The session is live either way; the viewer just cannot
			// attach until a grant is minted out of band.
			log.Printf("coaching: stream grant issue failed session=%s err=%v", sess.ID, err)
		} else {
			resp.StreamGrant = token
		}
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h handlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	sess, checklist, err := h.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	resp := newSessionResponse(sess, checklist)
	resp.WebsocketURL = streamPath(sess.ID)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h handlers) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteJSONError(w, http.StatusBadRequest, "request body is not valid json")
		return
	}
	reason, ok := session.NormalizeEndReason(payload.Reason)
	if !ok {
		httpx.WriteError(w, apperrors.New(apperrors.CodeSessionInvalidEndReason, "end reason is not recognized"))
		return
	}

	sess, _, err := h.manager.EndSession(r.Context(), sessionID, reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.limits.forget(sess.ID)
	httpx.WriteJSON(w, http.StatusOK, newSessionResponse(sess, nil))
}

func (h handlers) handleResetChecklist(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	checklist, err := h.manager.ResetChecklist(r.Context(), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":     sessionID,
		"checklist":      newChecklistEntries(checklist),
		"progress_score": 0.0,
	})
}

func (h handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}
	if _, _, err := h.manager.GetSession(r.Context(), sessionID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if h.verifierOn {
		if _, err := grant.Validate(streamGrantFromRequest(r), sessionID, h.verifier); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}
	if h.hub == nil {
		httpx.WriteJSONError(w, http.StatusServiceUnavailable, "stream is not available")
		return
	}
	if err := h.hub.Attach(w, r, sessionID); err != nil {
		// Attach wrote the HTTP error during the failed upgrade.
		log.Printf("coaching: stream attach failed session=%s err=%v", sessionID, err)
	}
}

// streamGrantFromRequest pulls the grant token from the query string or, for
// non-browser clients, a bearer Authorization header.
func streamGrantFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("grant")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

func streamPath(sessionID string) string {
	return "/coaching/sessions/" + sessionID + "/stream"
}
