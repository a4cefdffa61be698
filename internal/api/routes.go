package api

import "net/http"

// Routes registers the API, the static site and, when non-nil, the metrics
// handler on a new mux.
func (h *Handler) Routes(staticDir string, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/chat/stream", h.HandleChatStream)
	mux.HandleFunc("/api/reset", h.HandleReset)
	mux.HandleFunc("/api/history", h.HandleHistory)
	mux.HandleFunc("/api/system-prompt", h.HandleSystemPrompt)
	mux.HandleFunc("/api/billing", h.HandleBilling)
	mux.HandleFunc("/api/usage", h.HandleUsage)
	mux.HandleFunc("/healthz", h.Health)

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	// index.html at "/" and assets under /static/
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))

	return mux
}
