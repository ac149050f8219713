package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/errors"
)

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error errorObject `json:"error"`
}

type errorObject struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Status  int              `json:"status"`
	Details map[string]any   `json:"details,omitempty"`
}

// renderError writes err as a JSON error response. Server-side failures
// are logged.
func renderError(w http.ResponseWriter, logger *zap.Logger, err error) {
	obj := toErrorObject(err)
	if obj.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", string(obj.Code)), zap.Error(err))
	}
	renderJSON(w, obj.Status, errorBody{Error: obj})
}

// toErrorObject maps err to its wire form. Internal errors get a generic
// message and no details.
func toErrorObject(err error) errorObject {
	bErr, ok := errors.As(err)
	if !ok {
		bErr = errors.NewInternal(err)
	}

	obj := errorObject{Code: bErr.Code, Message: bErr.Message, Status: bErr.Status}
	if bErr.Code == errors.ErrInternal {
		obj.Message = "an internal error occurred"
	} else {
		obj.Details = bErr.Details
	}
	return obj
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return errors.NewInvalidRequest("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
// Returns true for "true", "1", "yes" (case-insensitive).
func parseBoolParam(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
