package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
	"github.com/atelier-ec/newsletter/internal/registry"
	"github.com/atelier-ec/newsletter/internal/token"
)

type subscribeRequest struct {
	Email           string `json:"email"`
	ConsentAccepted bool   `json:"consent_accepted"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	consent := domain.Consent{
		Accepted:  req.ConsentAccepted,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Source:    domain.SourceFrontForm,
	}

	sub, err := s.registry.Create(r.Context(), req.Email, consent)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadySubscribed):
			respondError(w, http.StatusConflict, "email already subscribed")
		case errors.Is(err, registry.ErrInvalidEmail), errors.Is(err, registry.ErrConsentRequired), errors.Is(err, registry.ErrSuppressed):
			respondError(w, http.StatusBadRequest, "invalid subscription request")
		default:
			logger.Error("subscribe failed", "error", err.Error())
			respondError(w, http.StatusInternalServerError, "subscription failed")
		}
		return
	}

	// Provider sync is best-effort. The local record is authoritative and a
	// reconciliation run repairs any drift.
	if err := s.provider.EnsureNewsletterSubscriber(r.Context(), sub.Email, nil); err != nil {
		logger.Warn("provider sync failed on subscribe", "email", sub.Email, "error", err.Error())
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	email, err := s.tokens.Verify(r.URL.Query().Get("token"), token.KindConfirmation)
	if err != nil {
		// All token defects collapse to one reason; the visitor never learns
		// which check failed.
		s.redirectError(w, r, "invalid_token")
		return
	}

	sub, already, err := s.registry.Confirm(r.Context(), email)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			s.redirectError(w, r, "not_found")
		default:
			logger.Error("confirm failed", "email", email, "error", err.Error())
			s.redirectError(w, r, "update_failed")
		}
		return
	}

	if !already {
		if err := s.provider.MarkConfirmed(r.Context(), sub.Email); err != nil {
			logger.Warn("provider sync failed on confirm", "email", sub.Email, "error", err.Error())
		}
	}

	dest := s.frontendURL + "/newsletter/confirmed?promo=" + url.QueryEscape(sub.PromoCode)
	if already {
		dest += "&already=true"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

type unsubscribeRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email, err := s.tokens.Verify(req.Token, token.KindUnsubscribe)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token")
		return
	}

	if err := s.unsubscribe(r, email, req.Reason); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		logger.Error("unsubscribe failed", "email", email, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "unsubscribe failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUnsubscribeLink is the one-click variant used in email footers.
func (s *Server) handleUnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	email, err := s.tokens.Verify(r.URL.Query().Get("token"), token.KindUnsubscribe)
	if err != nil {
		s.redirectError(w, r, "invalid_token")
		return
	}

	if err := s.unsubscribe(r, email, "one-click link"); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.redirectError(w, r, "not_found")
			return
		}
		logger.Error("unsubscribe failed", "email", email, "error", err.Error())
		s.redirectError(w, r, "update_failed")
		return
	}

	http.Redirect(w, r, s.frontendURL+"/newsletter/unsubscribed", http.StatusFound)
}

func (s *Server) unsubscribe(r *http.Request, email, reason string) error {
	if err := s.registry.Unsubscribe(r.Context(), email, reason); err != nil {
		return err
	}
	if err := s.provider.MarkUnsubscribed(r.Context(), email); err != nil {
		logger.Warn("provider sync failed on unsubscribe", "email", email, "error", err.Error())
	}
	return nil
}

type resendRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := s.registry.RotateConfirmationToken(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			respondError(w, http.StatusNotFound, "subscriber not found")
		case errors.Is(err, registry.ErrNotPending):
			respondError(w, http.StatusBadRequest, "subscription is not awaiting confirmation")
		default:
			logger.Error("resend confirmation failed", "error", err.Error())
			respondError(w, http.StatusInternalServerError, "resend failed")
		}
		return
	}

	// Re-trigger the provider's opt-in email.
	if err := s.provider.EnsureNewsletterSubscriber(r.Context(), sub.Email, nil); err != nil {
		logger.Warn("provider sync failed on resend", "email", sub.Email, "error", err.Error())
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resent"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		logger.Error("stats failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCheckSubscriber(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	sub, err := s.registry.Get(r.Context(), email)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		logger.Error("check subscriber failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"email":      sub.Email,
		"status":     sub.Status,
		"promo_code": sub.PromoCode,
		"promo_used": sub.PromoUsed,
	})
}

func (s *Server) handleMarkPromoUsed(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	if err := s.registry.MarkPromoUsed(r.Context(), email); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			respondError(w, http.StatusNotFound, "subscriber or promo code not found")
		case errors.Is(err, registry.ErrPromoAlreadyUsed):
			respondError(w, http.StatusConflict, "promo code already used")
		default:
			logger.Error("mark promo used failed", "error", err.Error())
			respondError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	// Remove the remote record first, best-effort.
	if remote, err := s.provider.GetSubscriber(r.Context(), email); err != nil {
		logger.Warn("provider lookup failed on erasure", "error", err.Error())
	} else if remote != nil {
		if err := s.provider.DeleteSubscriber(r.Context(), remote.ID); err != nil {
			logger.Warn("provider delete failed on erasure", "error", err.Error())
		}
	}

	if err := s.registry.Erase(r.Context(), email); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		logger.Error("erasure failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "erasure failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, s.frontendURL+"/newsletter/error?reason="+url.QueryEscape(reason), http.StatusFound)
}
