package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/usecase"
)

const (
	codeInternal          = "INTERNAL"
	codeAssistantDisabled = "ASSISTANT_DISABLED"
	codeTimeout           = "TIMEOUT"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string          `json:"error"`
	Code  string          `json:"code"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(e *model.Error) int {
	switch e.Kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAuthorization:
		if e.Code == model.CodeUnauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case model.KindStateConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to their status and hides everything else.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var me *model.Error
	switch {
	case errors.As(err, &me):
		writeJSON(w, statusFor(me), ErrorResponse{Error: err.Error(), Code: me.Code, Kind: me.Kind})
	case errors.Is(err, usecase.ErrAssistantDisabled):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: codeAssistantDisabled})
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("request timed out")
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Code: codeTimeout})
	default:
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: codeInternal})
	}
}

// decode reads a JSON body into v. An empty body is allowed when optional.
func decode(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	return fmt.Errorf("%w: malformed JSON body", model.ErrInvalidRequest)
}
