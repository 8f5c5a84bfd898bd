package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/swappo/pin-server-go/internal/audit"
	"github.com/swappo/pin-server-go/internal/model"
	"github.com/swappo/pin-server-go/internal/repository"
	"github.com/swappo/pin-server-go/internal/util"
)

type contextKey string

const PartyContextKey contextKey = "party"

func GetParty(ctx context.Context) *model.Party {
	if party, ok := ctx.Value(PartyContextKey).(*model.Party); ok {
		return party
	}
	return nil
}

type AuthMiddleware struct {
	partyRepo repository.PartyRepository
}

func NewAuthMiddleware(partyRepo repository.PartyRepository) *AuthMiddleware {
	return &AuthMiddleware{partyRepo: partyRepo}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		tokenHash := util.HashToken(token)
		party, err := m.partyRepo.FindByTokenHash(r.Context(), tokenHash)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if party == nil {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), PartyContextKey, party)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
