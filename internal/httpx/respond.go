package httpx

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind to a status. Anything untyped is a 500 with
// a generic message; the detail only goes to the log.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation, apperr.KindConflict:
		code = http.StatusBadRequest
	case apperr.KindNotFound:
		code = http.StatusNotFound
	case apperr.KindUnauthorized:
		code = http.StatusUnauthorized
	case apperr.KindForbidden:
		code = http.StatusForbidden
	case apperr.KindUnavailable:
		code = http.StatusBadGateway
	}
	if code >= 500 {
		log.Error("request failed", zap.String("kind", kind.String()), zap.Error(err))
	}
	writeJSON(w, code, ErrorResponse{Error: apperr.Message(err, "Internal server error")})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}
