package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// handleListWallets handles GET /api/wallets
func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	wallets, err := s.walletService.ListWallets(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets})
}

// handleLinkWallet handles POST /api/wallets
func (s *Server) handleLinkWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Address string  `json:"address"`
		Label   *string `json:"label,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Label != nil {
		label := strings.TrimSpace(*req.Label)
		if label == "" {
			req.Label = nil
		} else {
			req.Label = &label
		}
	}

	wallet, err := s.walletService.LinkWallet(r.Context(), userID, req.Address, req.Label)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"wallet": wallet})
}

// handleDeleteWallet handles DELETE /api/wallets/{id}
func (s *Server) handleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := s.walletService.DeleteWallet(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// handleCreateChallenge handles POST /api/wallets/{id}/challenge
func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	challenge, err := s.walletService.CreateChallenge(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"challengeId": challenge.ID,
		"noteText":    challenge.NoteText,
		"receiver":    challenge.Receiver,
		"expiresAt":   challenge.ExpiresAt,
	})
}

// handleVerifyWallet handles POST /api/wallets/verify
func (s *Server) handleVerifyWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		ChallengeID  string `json:"challengeId"`
		SignedTxnB64 string `json:"signedTxnB64,omitempty"`
		TxID         string `json:"txId,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || strings.TrimSpace(req.ChallengeID) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "challengeId is required", nil)
		return
	}

	// txId is accepted for older clients; the note search finds the transaction
	wallet, err := s.walletService.ConfirmChallenge(r.Context(), userID, strings.TrimSpace(req.ChallengeID), req.SignedTxnB64)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "wallet": wallet})
}
