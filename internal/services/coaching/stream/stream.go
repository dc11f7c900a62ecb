// Package stream pushes live coaching frames to websocket subscribers. A
// subscriber follows exactly one session. Checklist frames reach every
// subscriber of a session; intervention frames only ever originate from the
// recorder after its coached-group gate, so control viewers never see
// commands. No frame carries the cohort assignment.
package stream

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

const (
	FrameChecklistUpdated      = "checklist.updated"
	FrameInterventionDelivered = "intervention.delivered"
	FrameSessionEnded          = "session.ended"
)

// sendBufferSize bounds the per-subscriber frame queue. A full queue drops
// frames for that subscriber instead of blocking the recorder.
const sendBufferSize = 64

// Frame is one message pushed to a session's subscribers. Exactly one
// payload field is set, matching Type.
type Frame struct {
	Type         string                     `json:"type"`
	SessionID    string                     `json:"session_id"`
	Checklist    *ChecklistUpdate           `json:"checklist,omitempty"`
	Intervention *event.InterventionPayload `json:"intervention,omitempty"`
	Session      *SessionUpdate             `json:"session,omitempty"`
}

// ChecklistUpdate reports one checklist item change and the session's
// recomputed progress score.
type ChecklistUpdate struct {
	RuleID   string  `json:"rule_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// SessionUpdate reports a lifecycle change.
type SessionUpdate struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Hub fans frames out to the subscribers of each session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
	stopped  bool
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Attachment is authorized by stream grants, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Attach upgrades the request to a websocket connection and subscribes it to
// one session's frames. Once the upgrade has happened the HTTP response is
// hijacked, so a late error can only be logged by the caller.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return errors.New("stream hub is closed")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade stream connection: %w", err)
	}

	c := &client{
		hub:       h,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan Frame, sendBufferSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return errors.New("stream hub is closed")
	}
	subs := h.sessions[sessionID]
	if subs == nil {
		subs = make(map[*client]struct{})
		h.sessions[sessionID] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return nil
}

// ChecklistUpdated pushes a checklist frame to the session's subscribers.
func (h *Hub) ChecklistUpdated(sessionID, ruleID string, status rule.ItemStatus, progress float64) {
	h.publish(Frame{
		Type:      FrameChecklistUpdated,
		SessionID: sessionID,
		Checklist: &ChecklistUpdate{RuleID: ruleID, Status: string(status), Progress: progress},
	})
}

// InterventionDelivered pushes a feedback frame to the session's subscribers.
func (h *Hub) InterventionDelivered(sessionID string, payload event.InterventionPayload) {
	h.publish(Frame{
		Type:         FrameInterventionDelivered,
		SessionID:    sessionID,
		Intervention: &payload,
	})
}

// SessionEnded pushes the terminal lifecycle frame and detaches the
// session's subscribers. Queued frames drain before the close frame.
func (h *Hub) SessionEnded(sessionID string, status session.Status, reason session.EndReason) {
	h.publish(Frame{
		Type:      FrameSessionEnded,
		SessionID: sessionID,
		Session:   &SessionUpdate{Status: string(status), Reason: string(reason)},
	})

	h.mu.Lock()
	subs := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	for c := range subs {
		c.close()
	}
}

// SubscriberCount reports how many connections follow one session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close detaches every subscriber and rejects new attachments.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	var clients []*client
	for _, subs := range h.sessions {
		for c := range subs {
			clients = append(clients, c)
		}
	}
	h.sessions = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

func (h *Hub) publish(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	for c := range h.sessions[frame.SessionID] {
		select {
		case <-c.done:
		case c.send <- frame:
		default:
			log.Printf("coaching: stream subscriber lagging, dropping frame session=%s type=%s", frame.SessionID, frame.Type)
		}
	}
}

// detach removes one client after its read loop exits.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.sessions[c.sessionID]
	if subs == nil {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.sessions, c.sessionID)
	}
}
