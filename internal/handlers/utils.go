package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/jason-s-yu/teamlobby/internal/lobby"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies; every payload here is a handful of short fields.
const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// writeError maps roster engine errors onto HTTP statuses. Anything unrecognised is logged
// and reported as a 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *lobby.ValidationError
		cerr *lobby.CapacityError
		nerr *lobby.NotFoundError
		ferr *lobby.ForbiddenError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Message: verr.Message, Errors: map[string]string{verr.Field: verr.Message}})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Message: cerr.Message, Errors: map[string]string{cerr.Field: cerr.Message}})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusNotFound, errorBody{Message: nerr.Error()})
	case errors.As(err, &ferr):
		writeJSON(w, http.StatusForbidden, errorBody{Message: ferr.Error()})
	default:
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err,
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal server error"})
	}
}

// decodeBody reads a JSON body into dst. Form posts are handed to fromForm instead so plain
// HTML forms keep working. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any, fromForm func(get func(string) string)) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodyBytes))
		if err := r.ParseForm(); err != nil {
			return err
		}
		if fromForm != nil {
			fromForm(r.PostForm.Get)
		}
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Message: msg})
}
