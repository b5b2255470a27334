package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/presaleledger/internal/adapter/http/dto"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// SettlementService settles verified payments.
type SettlementService interface {
	Settle(ctx context.Context, input usecase.SettleInput) (*domain.SettlementResult, error)
}

// PaymentFailureService records payments the provider reports as failed.
type PaymentFailureService interface {
	FailByProviderOrder(ctx context.Context, provider, orderID, reason string) (*domain.Deposit, error)
}

// SettlementHandler serves internal settlements and provider webhooks.
type SettlementHandler struct {
	settlementUC SettlementService
	failures     PaymentFailureService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementUC SettlementService, failures PaymentFailureService) *SettlementHandler {
	return &SettlementHandler{settlementUC: settlementUC, failures: failures}
}

// Settle handles an already verified settlement request.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req dto.SettleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	h.settle(w, r, req.ToUseCaseInput())
}

// Webhook handles a provider callback whose signature has already been
// verified. Only finished payments are settled; failed and expired ones mark
// the deposit FAILED and anything else is acknowledged without effect.
func (h *SettlementHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var payload dto.WebhookPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload", err.Error())
		return
	}

	logger := zerolog.Ctx(r.Context())
	status := payload.PaymentStatus()

	if !payload.Final() {
		logger.Debug().Str("provider", provider).Str("order_id", payload.OrderID).Str("status", status).Msg("non-final payment status")
		writeJSON(w, http.StatusAccepted, dto.WebhookAck{Status: "PENDING"})
		return
	}

	if status == dto.PaymentFinished {
		h.settle(w, r, payload.ToSettleInput(provider))
		return
	}

	reason := payload.Reason
	if reason == "" {
		reason = status
	}
	deposit, err := h.failures.FailByProviderOrder(r.Context(), provider, payload.OrderID, reason)
	if errors.Is(err, domain.ErrDepositNotFound) {
		logger.Info().Str("provider", provider).Str("order_id", payload.OrderID).Msg("failure reported for unknown order")
		writeJSON(w, http.StatusOK, dto.WebhookAck{Status: "IGNORED"})
		return
	}
	if err != nil {
		writeDomainError(w, r, "failed to record payment failure", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WebhookAck{Status: string(deposit.Status), DepositID: deposit.ID})
}

func (h *SettlementHandler) settle(w http.ResponseWriter, r *http.Request, input usecase.SettleInput) {
	result, err := h.settlementUC.Settle(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, "settlement failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SettlementFromDomain(result))
}
