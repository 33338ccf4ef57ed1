package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// MissingLanguages is set for languages_missing denials.
	MissingLanguages []string `json:"missing_languages,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// decodeJSON reads one JSON object into dst and validates it. An empty body leaves dst zero.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body != nil {
		defer func() { _ = r.Body.Close() }()

		body := http.MaxBytesReader(w, r.Body, maxBytes)
		dec := json.NewDecoder(body)
		dec.DisallowUnknownFields()
		err := dec.Decode(dst)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			return err
		default:
			if err := dec.Decode(&struct{}{}); err != io.EOF {
				return errors.New("extra data after JSON object")
			}
		}
	}
	return validate.Struct(dst)
}

// validationMessage flattens validator errors into "field: tag" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	msg := fe.Field() + ": " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return msg
}
