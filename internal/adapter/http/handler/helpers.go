package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/iho/presaleledger/internal/adapter/http/dto"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

const (
	maxBodyBytes = 1 << 20

	// retryAfterSeconds is advertised when a request lost a race and may be
	// redelivered.
	retryAfterSeconds = "1"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError maps err to a status and writes it. Transient failures
// carry Retry-After so the caller redelivers.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := mapDomainError(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeError(w, status, message, err.Error())
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrDepositNotFound),
		errors.Is(err, domain.ErrStageNotFound),
		errors.Is(err, domain.ErrNoActiveStage):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrAmountTooLarge),
		errors.Is(err, domain.ErrAmountPrecision),
		errors.Is(err, domain.ErrAmountBelowPrice),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidIDFormat),
		errors.Is(err, domain.ErrInvalidProvider),
		errors.Is(err, domain.ErrInvalidOrderID),
		errors.Is(err, domain.ErrInvalidReferrer),
		errors.Is(err, domain.ErrInvalidInventory),
		errors.Is(err, domain.ErrInvalidStage),
		errors.Is(err, domain.ErrInvalidStageOrdinal):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrAccountSuspended),
		errors.Is(err, domain.ErrInsufficientRole):
		return http.StatusForbidden

	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrExpiredToken):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrStageExhausted),
		errors.Is(err, domain.ErrStageAlreadyActive),
		errors.Is(err, domain.ErrStageAlreadyOpened),
		errors.Is(err, domain.ErrStageOutOfOrder),
		errors.Is(err, domain.ErrDepositExists),
		errors.Is(err, domain.ErrDepositMismatch),
		errors.Is(err, domain.ErrDepositNotSettleable),
		errors.Is(err, domain.ErrDepositNotSettled),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateSettlement),
		errors.Is(err, usecase.ErrInconsistentLedger):
		return http.StatusConflict

	case errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrSettlementInProgress),
		errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}
