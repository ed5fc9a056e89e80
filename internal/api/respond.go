package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lumenbro/photonbot-turnkey/internal/logger"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
)

// errorResponse is the error body both services return. signing_method and
// requires_login are set when the failure is about session state, so callers
// can tell "log in again" from "something is broken".
type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	SigningMethod string `json:"signing_method,omitempty"`
	RequiresLogin bool   `json:"requires_login,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps an error to the API error body. Unknown errors become an
// opaque 500; their detail is logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		logger.Error(r.Context(), "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal server error",
			Code:  apperrors.ErrCodeInternalError,
		})
		return
	}

	resp := errorResponse{
		Error: appErr.Message,
		Code:  appErr.Code,
	}
	switch appErr.Code {
	case apperrors.ErrCodeNoActiveSession:
		resp.RequiresLogin = true
		resp.SigningMethod = methodFromDetail(appErr.Detail)
	case apperrors.ErrCodeClientSigningRequired:
		resp.SigningMethod = methodFromDetail(appErr.Detail)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", "code", appErr.Code, "detail", appErr.Detail)
	} else {
		logger.Warn(r.Context(), "request rejected", "code", appErr.Code, "detail", appErr.Detail)
	}
	writeJSON(w, appErr.StatusCode, resp)
}

func methodFromDetail(detail string) string {
	return strings.TrimPrefix(detail, "signing_method: ")
}
