package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/service"
)

type AuthHandler struct {
	Auth   *service.Authenticator
	Logger *slog.Logger
}

// Create handles POST /authentication for the local and jwt strategies.
func (h *AuthHandler) Create(w http.ResponseWriter, r *http.Request) {
	var creds service.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	res, err := h.Auth.Authenticate(r.Context(), creds, &hooks.Params{Provider: hooks.ProviderREST})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Remove handles DELETE /authentication. Tokens are stateless, so logout
// only confirms the presented token; the client discards it.
func (h *AuthHandler) Remove(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())
	if token == "" {
		writeError(w, r, h.Logger, apperr.Authentication(apperr.NotAuthenticated, nil))
		return
	}
	userID, err := h.Auth.Verify(token)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.Logger.InfoContext(r.Context(), "logout", slog.String("user_id", userID))
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}
