package rpc

import (
	"encoding/json"
	"net/http"

	"nftmarket/runtime"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFromContext(r.Context()),
	}})
}

// writeDomainError maps err through runtime.Code onto an HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := runtime.Code(err)
	status := statusForCode(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		message = http.StatusText(status)
	}
	writeError(w, r, status, code, message)
}

func statusForCode(code string) int {
	switch code {
	case runtime.CodeAccountNotFound:
		return http.StatusNotFound
	case runtime.CodeListingNotActive, runtime.CodeListingExists, runtime.CodeDuplicateTransaction, runtime.CodeAccountInUse:
		return http.StatusConflict
	case runtime.CodeUnauthorizedCancel, runtime.CodeUnauthorized, runtime.CodeMissingSigner, runtime.CodeInvalidSignature:
		return http.StatusForbidden
	case runtime.CodeInsufficientFunds, runtime.CodeInsufficientTokens:
		return http.StatusPaymentRequired
	case runtime.CodeModulePaused, runtime.CodeCancelled:
		return http.StatusServiceUnavailable
	case runtime.CodeInternal, "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
