package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	pkgerrors "github.com/digkill/storybook/pkg/errors"
	"github.com/digkill/storybook/pkg/logger"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as the error envelope. A cancelled request is
// dropped silently: the caller is gone.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if typed.Code() != pkgerrors.CodeInternal && typed.Message() != "" {
		msg = typed.Message()
	}
	payload := errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	log := logger.FromContext(ctx, s.Log)
	switch typed.Code() {
	case pkgerrors.CodeInternal:
		log.Error("request failed", "code", typed.Code(), "err", err)
	case pkgerrors.CodeDependency:
		log.Warn("dependency failed", "code", typed.Code(), "err", err)
	default:
		log.Debug("request rejected", "code", typed.Code(), "err", err)
	}
	writeJSON(w, meta.HTTPStatus, payload)
}

func parseUUID(value, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+field).
			WithDetails(map[string]string{field: "must be a uuid"})
	}
	return id, nil
}
