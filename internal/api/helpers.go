package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/middleware"
)

// StatusResponse is returned by every successful mutating endpoint
type StatusResponse struct {
	Status string `json:"status"`
}

// CLAPIErrorDetails is attached to CLAPI_ERROR responses
type CLAPIErrorDetails struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func sendOK(w http.ResponseWriter) {
	sendJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// sendError sends a standardized error response
func sendError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	middleware.SendError(w, r, status, code, message, details)
}

// decodeJSON decodes and validates the request body
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var input T
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", err.Error())
		return input, false
	}
	if err := clapi.ValidateStruct(input); err != nil {
		sendValidationError(w, r, err)
		return input, false
	}
	return input, true
}

func sendValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs *clapi.ValidationErrors
	if errors.As(err, &verrs) {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", verrs.Errors)
		return
	}
	sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
}

// handleCLAPIError maps an operation error to a response. It returns false
// when err is nil.
func handleCLAPIError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}

	if ure, ok := clapi.AsUnexpectedResponse(err); ok {
		sendError(w, r, http.StatusBadGateway, "CLAPI_ERROR", "CLAPI rejected the request", CLAPIErrorDetails{
			ExitCode: ure.Code,
			Output:   ure.Message,
		})
		return true
	}
	if errors.Is(err, clapi.ErrTimeout) {
		sendError(w, r, http.StatusGatewayTimeout, "CLAPI_TIMEOUT", "CLAPI did not answer in time", nil)
		return true
	}

	sendError(w, r, http.StatusInternalServerError, "CLAPI_EXECUTION_ERROR", "CLAPI could not be executed", nil)
	return true
}
