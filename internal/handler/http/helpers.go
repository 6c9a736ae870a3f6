package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/catalog"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/ledger"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrDuplicatePayment), errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError turns a service error into a response. Messages of
// unexpected errors are not leaked; fallback is sent instead.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	statusCode := mapErrorToStatusCode(err)

	var vErr *ledger.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondWithJSON(w, statusCode, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{fieldOrRequest(vErr.Field): vErr.Reason},
		})
	case errors.Is(err, ledger.ErrDuplicatePayment):
		respondWithError(w, statusCode, "Duplicate payment")
	case errors.Is(err, ledger.ErrConflict):
		respondWithError(w, statusCode, "Order was modified concurrently, reload and retry")
	case errors.Is(err, ledger.ErrOrderNotFound):
		respondWithError(w, statusCode, "Order not found")
	case statusCode == http.StatusNotFound:
		respondWithError(w, statusCode, "Not found")
	case statusCode == http.StatusServiceUnavailable:
		log.Error().Err(err).Msg("Storage unavailable")
		respondWithError(w, statusCode, "Storage unavailable, try again later")
	default:
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, statusCode, fallback)
	}
}

func fieldOrRequest(field string) string {
	if field == "" {
		return "request"
	}
	return field
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}

		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		case "min", "gt", "gte":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "len":
			details[field] = fmt.Sprintf("must have length %s", fe.Param())
		case "uuid", "uuid4":
			details[field] = "must be a UUID"
		default:
			details[field] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes
// the error response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}

	return true
}
