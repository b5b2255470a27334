package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iho/presaleledger/internal/adapter/http/dto"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// StageService defines the behavior needed by StageHandler.
type StageService interface {
	CreateStage(ctx context.Context, input usecase.CreateStageInput) (*domain.PresaleStage, error)
	OpenStage(ctx context.Context, ordinal int) (*domain.PresaleStage, error)
	CloseActiveStage(ctx context.Context) ([]domain.StageTransition, error)
	AdjustInventory(ctx context.Context, ordinal int, tokensAvailable int64) (*domain.PresaleStage, error)
	GetActiveStage(ctx context.Context) (*domain.PresaleStage, error)
	GetStage(ctx context.Context, ordinal int) (*domain.PresaleStage, error)
	ListStages(ctx context.Context) ([]*domain.PresaleStage, error)
}

// StageHandler serves stage queries and admin stage control.
type StageHandler struct {
	stageUC StageService
}

// NewStageHandler creates a new StageHandler.
func NewStageHandler(stageUC StageService) *StageHandler {
	return &StageHandler{stageUC: stageUC}
}

// Active returns the selling stage.
func (h *StageHandler) Active(w http.ResponseWriter, r *http.Request) {
	stage, err := h.stageUC.GetActiveStage(r.Context())
	if err != nil {
		writeDomainError(w, r, "failed to get active stage", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StageFromDomain(stage))
}

// List returns the whole stage schedule.
func (h *StageHandler) List(w http.ResponseWriter, r *http.Request) {
	stages, err := h.stageUC.ListStages(r.Context())
	if err != nil {
		writeDomainError(w, r, "failed to list stages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stages": dto.StagesFromDomain(stages),
	})
}

// Get returns one stage.
func (h *StageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := ordinalParam(w, r)
	if !ok {
		return
	}
	stage, err := h.stageUC.GetStage(r.Context(), ordinal)
	if err != nil {
		writeDomainError(w, r, "failed to get stage", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StageFromDomain(stage))
}

// Create appends a stage.
func (h *StageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateStageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	stage, err := h.stageUC.CreateStage(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, r, "failed to create stage", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.StageFromDomain(stage))
}

// Open activates a stage when none is selling.
func (h *StageHandler) Open(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := ordinalParam(w, r)
	if !ok {
		return
	}
	stage, err := h.stageUC.OpenStage(r.Context(), ordinal)
	if err != nil {
		writeDomainError(w, r, "failed to open stage", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StageFromDomain(stage))
}

// Close ends the active stage early and opens the next one.
func (h *StageHandler) Close(w http.ResponseWriter, r *http.Request) {
	transitions, err := h.stageUC.CloseActiveStage(r.Context())
	if err != nil {
		writeDomainError(w, r, "failed to close stage", err)
		return
	}
	if transitions == nil {
		transitions = []domain.StageTransition{}
	}
	writeJSON(w, http.StatusOK, dto.StageTransitionsResponse{Transitions: transitions})
}

// AdjustInventory changes the inventory of a stage that never opened.
func (h *StageHandler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := ordinalParam(w, r)
	if !ok {
		return
	}
	var req dto.AdjustInventoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	stage, err := h.stageUC.AdjustInventory(r.Context(), ordinal, req.TokensAvailable)
	if err != nil {
		writeDomainError(w, r, "failed to adjust inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StageFromDomain(stage))
}

func ordinalParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil || ordinal <= 0 {
		writeError(w, http.StatusBadRequest, "invalid stage ordinal", chi.URLParam(r, "ordinal"))
		return 0, false
	}
	return ordinal, true
}
