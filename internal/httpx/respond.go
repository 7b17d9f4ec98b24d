// Package httpx writes the {success, message, ...payload} envelope every
// REST endpoint answers with.
package httpx

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"shopchat/internal/apperr"
)

// M is the payload merged into the envelope next to "success".
type M map[string]any

func JSON(w http.ResponseWriter, status int, payload M) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = status < http.StatusBadRequest
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func OK(w http.ResponseWriter, payload M) { JSON(w, http.StatusOK, payload) }

// Error maps err onto its status code. Internal errors are logged with
// their full chain and answered with a generic message.
func Error(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.Error(err))
	}
	JSON(w, status, M{"message": apperr.Message(err), "code": apperr.Code(err)})
}

// Decode reads a JSON body into v, reporting malformed input as a
// validation error.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
