package api

import (
	"net/http"
)

// handleDeleteAccount handles DELETE /api/account
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := s.accountService.DeleteAccount(r.Context(), userID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
