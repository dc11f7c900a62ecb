package rest

import "net/http"

func registerRoutes(mux *http.ServeMux, h handlers) {
	if mux == nil {
		return
	}
	mux.HandleFunc(http.MethodGet+" /healthz", h.handleHealthz)

	mux.HandleFunc(http.MethodPost+" /coaching/sessions", h.handleCreateSession)
	mux.HandleFunc(http.MethodGet+" /coaching/sessions/{sessionID}", h.handleGetSession)
	mux.HandleFunc(http.MethodPost+" /coaching/sessions/{sessionID}/end", h.handleEndSession)
	mux.HandleFunc(http.MethodPost+" /coaching/sessions/{sessionID}/checklist/reset", h.handleResetChecklist)

	mux.Handle(http.MethodPost+" /coaching/sessions/{sessionID}/events/rule-evaluated", h.limited(h.handleRuleEvaluated))
	mux.Handle(http.MethodPost+" /coaching/sessions/{sessionID}/events/intervention", h.limited(h.handleIntervention))
	mux.Handle(http.MethodPost+" /coaching/sessions/{sessionID}/events/outcome", h.limited(h.handleOutcome))

	mux.HandleFunc(http.MethodGet+" /coaching/sessions/{sessionID}/events", h.handleListEvents)
	mux.HandleFunc(http.MethodGet+" /coaching/sessions/{sessionID}/summary", h.handleSummary)
	mux.HandleFunc(http.MethodGet+" /coaching/sessions/{sessionID}/stream", h.handleStream)

	mux.HandleFunc(http.MethodGet+" /coaching/stats/all-sessions", h.handleCohortStats)
}
