package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/upload"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// OverloadResponse is the body of a 503; clients key on the status code.
type OverloadResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR [handlers.writeJSON] encode response: %v", err)
	}
}

// writeError maps err's kind to a status code and writes the caller-facing
// message. Internal errors are logged and reduced to a generic message.
func writeError(w http.ResponseWriter, op string, err error) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindOverload:
		writeJSON(w, http.StatusServiceUnavailable, OverloadResponse{Message: domain.MessageOf(err)})
		return
	case domain.KindInternal:
		log.Printf("ERROR [%s] %v", op, err)
	}
	writeJSON(w, statusFor(kind, err), ErrorResponse{Error: domain.MessageOf(err)})
}

func statusFor(kind domain.ErrorKind, err error) int {
	switch kind {
	case domain.KindValidation:
		var rejection *upload.Rejection
		if errors.As(err, &rejection) && rejection.Reason == upload.ReasonTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindOverload:
		return http.StatusServiceUnavailable
	case domain.KindCancelled:
		// Client closed request.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message})
}
