package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/presaleledger/internal/adapter/http/dto"
	"github.com/iho/presaleledger/internal/domain"
)

// ReferralService defines the behavior needed by ReferralHandler.
type ReferralService interface {
	Payout(ctx context.Context, depositID string) (*domain.PayoutResult, error)
	ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.Referral, error)
}

// ReferralHandler serves referral payouts.
type ReferralHandler struct {
	referralUC ReferralService
}

// NewReferralHandler creates a new ReferralHandler.
func NewReferralHandler(referralUC ReferralService) *ReferralHandler {
	return &ReferralHandler{referralUC: referralUC}
}

// Payout processes the referral of one settled deposit immediately instead
// of waiting for the sweep.
func (h *ReferralHandler) Payout(w http.ResponseWriter, r *http.Request) {
	result, err := h.referralUC.Payout(r.Context(), chi.URLParam(r, "deposit_id"))
	if err != nil {
		writeDomainError(w, r, "referral payout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListByReferrer lists the bonuses an account earned.
func (h *ReferralHandler) ListByReferrer(w http.ResponseWriter, r *http.Request) {
	referrals, err := h.referralUC.ListByReferrer(r.Context(),
		chi.URLParam(r, "id"),
		parseIntQuery(r, "limit", 20),
		parseIntQuery(r, "offset", 0),
	)
	if err != nil {
		writeDomainError(w, r, "failed to list referrals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"referrals": dto.ReferralsFromDomain(referrals),
	})
}
