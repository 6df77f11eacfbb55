package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/model"
	"github.com/dharsanguruparan/AgeGate/internal/pipeline"
	"github.com/dharsanguruparan/AgeGate/internal/runs"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string     `json:"error"`
	Kind  model.Kind `json:"kind,omitempty"`
}

var (
	errFileTooLarge = errors.New("file exceeds size limit")
	errBadUpload    = errors.New("expecting multipart form with a file field")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadUpload):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, model.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, runs.ErrNotFound), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if kind := model.KindOf(err); kind != model.KindInternal {
		body.Kind = kind
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		body.Error = "internal error"
	}
	respondJSON(w, status, body)
}
