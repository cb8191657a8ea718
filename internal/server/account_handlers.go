package server

import (
	"encoding/json"
	"net/http"
	"strings"

	jsonwriter "github.com/merchantdash/auth-front/internal/json"
	"github.com/merchantdash/auth-front/internal/log"
)

// Account endpoints proxy to the Identity Service. The email-based ones
// are enumeration-sensitive: they return a success-shaped response even
// when the upstream call fails, so an attacker cannot probe which
// addresses exist.

type emailRequest struct {
	Email string `json:"email"`
}

// ForgotPasswordHandler asks the Identity Service to send a recovery email.
func (h *AuthHandlers) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := decodeEmail(w, r)
	if !ok {
		return
	}

	if err := h.identity.Recover(r.Context(), email); err != nil {
		log.LogErrorWithFields("account", "Recovery request failed", map[string]any{
			"error": err.Error(),
		})
	}

	_ = jsonwriter.Write(w, map[string]any{
		"success": true,
		"message": "If that address exists, a recovery email is on its way",
	})
}

// ResendVerificationHandler asks the Identity Service to re-send the
// address verification email.
func (h *AuthHandlers) ResendVerificationHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := decodeEmail(w, r)
	if !ok {
		return
	}

	if err := h.identity.ResendVerification(r.Context(), email); err != nil {
		log.LogErrorWithFields("account", "Verification resend failed", map[string]any{
			"error": err.Error(),
		})
	}

	_ = jsonwriter.Write(w, map[string]any{
		"success": true,
		"message": "If that address exists, a verification email is on its way",
	})
}

// TwoFactorHandler toggles the second factor on the caller's identity.
// Unlike the email endpoints this one requires an authenticated session
// and reports upstream failures.
func (h *AuthHandlers) TwoFactorHandler(w http.ResponseWriter, r *http.Request) {
	resolved := h.resolver.Resolve(r.Context(), r)
	if resolved == nil {
		jsonwriter.WriteUnauthorized(w, "Authentication required")
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		jsonwriter.WriteBadRequest(w, "Missing enabled flag")
		return
	}

	if err := h.identity.SetTwoFactor(r.Context(), r.Header.Get("Cookie"), *body.Enabled); err != nil {
		log.LogErrorWithFields("account", "Two-factor toggle failed", map[string]any{
			"user":  resolved.ID,
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to update two-factor settings")
		return
	}

	_ = jsonwriter.Write(w, map[string]any{"success": true})
}

func decodeEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body emailRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return "", false
	}

	email := strings.TrimSpace(body.Email)
	if email == "" || !strings.Contains(email, "@") {
		jsonwriter.WriteBadRequest(w, "A valid email is required")
		return "", false
	}
	return email, true
}
