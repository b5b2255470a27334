package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/presaleledger/internal/adapter/http/dto"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// DepositService defines the behavior needed by DepositHandler.
type DepositService interface {
	CreatePurchaseIntent(ctx context.Context, input usecase.CreateDepositInput) (*domain.Deposit, error)
	GetDeposit(ctx context.Context, id string) (*domain.Deposit, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error)
	MarkFailed(ctx context.Context, id, reason string) (*domain.Deposit, error)
	Refund(ctx context.Context, id, reason string) (*domain.Deposit, error)
}

// DepositHandler handles deposit HTTP requests.
type DepositHandler struct {
	depositUC DepositService
}

// NewDepositHandler creates a new DepositHandler.
func NewDepositHandler(depositUC DepositService) *DepositHandler {
	return &DepositHandler{depositUC: depositUC}
}

// Create records a purchase intent as a PENDING deposit.
func (h *DepositHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateDepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	deposit, err := h.depositUC.CreatePurchaseIntent(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, r, "failed to create deposit", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.DepositFromDomain(deposit))
}

// Get retrieves a deposit.
func (h *DepositHandler) Get(w http.ResponseWriter, r *http.Request) {
	deposit, err := h.depositUC.GetDeposit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DepositFromDomain(deposit))
}

// ListByAccount lists an account's deposits, newest first.
func (h *DepositHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.depositUC.ListByAccount(r.Context(),
		chi.URLParam(r, "id"),
		parseIntQuery(r, "limit", 20),
		parseIntQuery(r, "offset", 0),
	)
	if err != nil {
		writeDomainError(w, r, "failed to list deposits", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deposits": dto.DepositsFromDomain(deposits),
	})
}

// Fail marks a PENDING deposit as FAILED.
func (h *DepositHandler) Fail(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.depositUC.MarkFailed)
}

// Refund marks a PENDING or FAILED deposit as REFUNDED.
func (h *DepositHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.depositUC.Refund)
}

func (h *DepositHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (*domain.Deposit, error)) {
	var req dto.TransitionRequest
	// the reason is optional, so an empty body is accepted
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	deposit, err := fn(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, r, "failed to update deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DepositFromDomain(deposit))
}
