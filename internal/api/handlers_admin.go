package api

import (
	"net/http"
)

// handleReconcile runs one reconciliation pass synchronously and reports the
// counts. A page-level failure still returns the partial progress.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result := s.reconciler.Run(r.Context())
	respondJSON(w, http.StatusOK, result)
}
