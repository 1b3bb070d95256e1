package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err in the wire error format. Internal errors are
// logged with their cause and reported without it.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, apperr.Status(err), apperr.ToPayload(err))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("malformed JSON body")
	}
	return nil
}

// restParams builds the call params of a REST request.
func restParams(r *http.Request) (*hooks.Params, error) {
	q, err := parseQuery(r)
	if err != nil {
		return nil, err
	}
	return &hooks.Params{
		Provider:    hooks.ProviderREST,
		AccessToken: auth.TokenFromContext(r.Context()),
		Query:       q,
	}, nil
}

// parseQuery reads $limit, $skip and $sort[createdAt].
func parseQuery(r *http.Request) (store.Query, error) {
	var q store.Query
	values := r.URL.Query()

	intParam := func(name string) (int, error) {
		raw := values.Get(name)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, apperr.Validation("%s must be a non-negative integer", name)
		}
		return n, nil
	}

	var err error
	if q.Limit, err = intParam("$limit"); err != nil {
		return q, err
	}
	if q.Skip, err = intParam("$skip"); err != nil {
		return q, err
	}
	switch values.Get("$sort[createdAt]") {
	case "", "1":
	case "-1":
		q.Desc = true
	default:
		return q, apperr.Validation("$sort[createdAt] must be 1 or -1")
	}
	return q, nil
}
