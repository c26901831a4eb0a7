package api

import (
	"encoding/json"
	"net/http"

	"github.com/bozzfozz/harmony/internal/orcherr"
)

// errorEnvelope is the DLQ HTTP surface's uniform failure shape:
// {ok:false, error:{code, message, meta?}}.
type errorEnvelope struct {
	OK    bool       `json:"ok"`
	Error errorBody  `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOrchErr maps an orcherr.Kind to an HTTP status and the error
// envelope's machine-readable code.
func writeOrchErr(w http.ResponseWriter, err *orcherr.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case orcherr.ValidationError:
		status = http.StatusBadRequest
	case orcherr.NotFound:
		status = http.StatusNotFound
	case orcherr.DependencyError, orcherr.RateLimited:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorEnvelope{
		Error: errorBody{Code: string(err.Kind), Message: err.Message, Meta: err.Meta},
	})
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeOrchErr(w, orcherr.New(orcherr.ValidationError, message, nil))
}
