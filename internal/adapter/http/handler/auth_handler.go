package handler

import (
	"net/http"

	"github.com/iho/presaleledger/internal/adapter/http/dto"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/auth"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	jwtManager *auth.JWTManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtManager *auth.JWTManager) *AuthHandler {
	return &AuthHandler{
		jwtManager: jwtManager,
	}
}

// IssueToken signs a token for another operator. Only admins reach it.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req dto.IssueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := domain.ValidateID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", err.Error())
		return
	}

	token, err := h.jwtManager.Generate(&domain.User{
		ID:    req.UserID,
		Email: req.Email,
		Role:  domain.Role(req.Role),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to issue token", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.TokenResponse{Token: token})
}

// Me returns the authenticated operator.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := domain.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    user.ID,
		"email": user.Email,
		"role":  string(user.Role),
	})
}
