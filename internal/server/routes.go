// -----------------------------------------------------------------------
// Last Modified: Monday, 12th October 2026 9:41:07 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Sync API (X-API-Key protected)
	mux.HandleFunc("/api/sync/start", s.app.SyncHandler.StartHandler)        // POST - queue a sync job
	mux.HandleFunc("/api/sync/status/", s.app.SyncHandler.StatusHandler)     // GET /{jobId}
	mux.HandleFunc("/api/sync/ws/", s.app.SyncStreamHandler.HandleWebSocket) // GET /{jobId} - websocket

	// System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
