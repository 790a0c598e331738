package controller

import (
	"encoding/json"
	"log/slog"
	"net/http"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Kind    appErrors.ErrorKind `json:"kind"`
}

func RespondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError maps err to its HTTP status. Internal failures are logged and
// their detail is not returned to the caller.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := appErrors.Kind(err)
	msg := err.Error()
	if kind == appErrors.KindInternal {
		if logger != nil {
			logger.Error("request failed", "error", err)
		}
		msg = "internal error"
	}
	RespondJSON(w, ErrorResponse{Success: false, Message: msg, Kind: kind}, appErrors.HTTPStatus(err))
}
