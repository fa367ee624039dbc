package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/contextkeys"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"go.uber.org/zap"
)

// maxBodyBytes bounds every decoded request body.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("failed to encode JSON response", zap.Error(err))
		}
	}
}

// Error writes an error JSON response, using AppError status codes when available.
func Error(w http.ResponseWriter, err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		if appErr.Code >= http.StatusInternalServerError {
			zap.L().Error("request failed", zap.String("kind", string(appErr.Kind)), zap.Error(err))
		}
		if appErr.Kind == domain.KindProviderUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		JSON(w, appErr.Code, errorBody{Error: appErr.Message, Kind: appErr.Kind})
		return
	}
	zap.L().Error("unhandled error", zap.Error(err))
	JSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Kind: domain.KindInternal})
}

// DecodeJSON decodes a JSON request body into the given struct.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	return nil
}

// userID returns the authenticated user set by the auth middleware.
func userID(r *http.Request) (string, error) {
	id := contextkeys.UserIDFrom(r.Context())
	if id == "" {
		return "", domain.ErrUnauthenticated("authentication required")
	}
	return id, nil
}
