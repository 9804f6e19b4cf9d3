package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brownie.dev/internal/audit"
	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
)

const serviceName = "metadata-api"

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps domain sentinels onto HTTP statuses. A stale
// version token is a precondition failure, everything else follows the
// usual REST conventions.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, metadata.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, metadata.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, metadata.ErrVersionConflict):
		writeError(w, r, http.StatusPreconditionFailed, "version conflict: resource has changed")
	case errors.Is(err, metadata.ErrLastAdmin):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, metadata.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// parsePage reads cursor/limit query parameters. Limit defaults to 100 and
// is capped at 1000.
func parsePage(r *http.Request) (metadata.Page, error) {
	page := metadata.Page{
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		Limit:  100,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 || val > 1000 {
			return metadata.Page{}, errors.New("limit must be between 1 and 1000")
		}
		page.Limit = val
	}
	return page, nil
}

// listResponse wraps a page of items, exposing the last id as the next
// cursor when the page came back full.
func listResponse[T any](items []T, limit int, id func(T) string) map[string]any {
	resp := map[string]any{"items": items}
	if limit > 0 && len(items) == limit {
		resp["next_cursor"] = id(items[len(items)-1])
	}
	return resp
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("timestamps must be RFC 3339")
	}
	return &t, nil
}
