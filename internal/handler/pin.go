package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/swappo/pin-server-go/internal/errors"
	"github.com/swappo/pin-server-go/internal/middleware"
	"github.com/swappo/pin-server-go/internal/model"
	"github.com/swappo/pin-server-go/internal/service"
)

type PinHandler struct {
	pinService      *service.PinService
	verifyRateLimit func(http.Handler) http.Handler
}

func NewPinHandler(pinService *service.PinService, verifyRateLimit func(http.Handler) http.Handler) *PinHandler {
	return &PinHandler{
		pinService:      pinService,
		verifyRateLimit: verifyRateLimit,
	}
}

func (h *PinHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/generate/{tradeID}", h.Generate)
	r.With(h.verifyRateLimit).Post("/verify/{tradeID}", h.Verify)
	r.Get("/status/{tradeID}", h.Status)

	return r
}

// POST /pins/generate/{tradeID}
// Owner issues (or reissues) the completion PIN for an accepted trade.
func (h *PinHandler) Generate(w http.ResponseWriter, r *http.Request) {
	party := middleware.GetParty(r.Context())
	if party == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	tradeID, err := tradeIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := h.pinService.Generate(r.Context(), tradeID, party.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"pin": map[string]any{
			"code":        record.Code,
			"generation":  record.Generation,
			"generatedAt": record.GeneratedAt.Format(time.RFC3339Nano),
			"expiresAt":   record.ExpiresAt.Format(time.RFC3339Nano),
		},
	})
}

// POST /pins/verify/{tradeID}
// Requester submits the code to confirm the handover; success completes the trade.
func (h *PinHandler) Verify(w http.ResponseWriter, r *http.Request) {
	party := middleware.GetParty(r.Context())
	if party == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	tradeID, err := tradeIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		PinCode string `json:"pinCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.PinCode == "" {
		writeError(w, apperrors.MissingRequired("pinCode"))
		return
	}

	code, err := service.NormalizePinCode(req.PinCode)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.pinService.Verify(r.Context(), tradeID, party.ID, code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"verifiedAt": outcome.VerifiedAt.Format(time.RFC3339Nano),
	})
}

// GET /pins/status/{tradeID}
// Role-scoped PIN state for polling; the code appears for the owner only.
func (h *PinHandler) Status(w http.ResponseWriter, r *http.Request) {
	party := middleware.GetParty(r.Context())
	if party == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	tradeID, err := tradeIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.pinService.Status(r.Context(), tradeID, party.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatStatusView(view))
}

func tradeIDParam(r *http.Request) (string, error) {
	tradeID := chi.URLParam(r, "tradeID")
	if tradeID == "" {
		return "", apperrors.MissingRequired("tradeID")
	}
	if err := uuid.Validate(tradeID); err != nil {
		log.Debug().Str("tradeId", tradeID).Msg("rejected malformed trade id")
		return "", apperrors.ValidationError("tradeID must be a valid UUID")
	}
	return tradeID, nil
}

func formatStatusView(view *model.PinStatusView) map[string]any {
	resp := map[string]any{
		"success":     true,
		"userRole":    view.Role,
		"tradeStatus": view.TradeStatus,
		"pinExists":   view.Exists,
		"pinStatus":   nil,
	}

	if !view.Exists {
		return resp
	}

	status := map[string]any{
		"isVerified":  view.IsVerified,
		"isExpired":   view.IsExpired,
		"generation":  view.Generation,
		"generatedAt": formatTime(view.GeneratedAt),
		"expiresAt":   formatTime(view.ExpiresAt),
		"verifiedAt":  formatTime(view.VerifiedAt),
	}
	if view.Code != "" {
		status["pinCode"] = view.Code
	}
	resp["pinStatus"] = status

	return resp
}
