package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "xsauce/native/common"
	"xsauce/native/yield"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps engine sentinel errors to HTTP status codes. Hard external
// failures (retryable payout/treasury withdrawals) surface as 502 so callers
// know to retry; everything unexpected collapses to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, yield.ErrInvalidAmount), errors.Is(err, yield.ErrInvalidShare):
		return http.StatusBadRequest
	case errors.Is(err, yield.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, yield.ErrMarketBound), errors.Is(err, yield.ErrMarketNotBound),
		errors.Is(err, yield.ErrShortfallExceeded):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, yield.ErrLedgerDrift), errors.Is(err, yield.ErrNilState),
		errors.Is(err, yield.ErrNotConfigured):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
