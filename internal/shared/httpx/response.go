// Package httpx holds the JSON response helpers shared by every module's
// handlers.
package httpx

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/problem"
	"github.com/opensur/platform/internal/shared/types"
)

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes an AppError with its status, or a bare 500.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus, map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// WriteProblem writes a validation problem as 422.
func WriteProblem(w http.ResponseWriter, p *problem.Problem) {
	WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{"problem": p})
}

// WriteResult writes either the problem or the value wrapped in "result".
func WriteResult[T any](w http.ResponseWriter, status int, res problem.Result[T]) {
	if !res.OK() {
		WriteProblem(w, res.Problem)
		return
	}
	WriteJSON(w, status, map[string]any{"result": res.Value})
}

// WriteOutcome handles the (result, error) pair returned by mutations.
// Recoverable errors become problems; the rest are written as errors.
func WriteOutcome[T any](w http.ResponseWriter, status int, res problem.Result[T], err error) {
	if err != nil {
		p, hard := problem.FromError(err)
		if hard != nil {
			WriteError(w, hard)
			return
		}
		WriteProblem(w, p)
		return
	}
	WriteResult(w, status, res)
}

// DecodeJSON reads the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return errors.BadRequest("invalid request body")
	}
	return nil
}

// Principal returns the authenticated principal or an Unauthorized error.
func Principal(r *http.Request) (*auth.Principal, error) {
	p := auth.GetPrincipal(r.Context())
	if p == nil {
		return nil, errors.Unauthorized("authentication required")
	}
	return p, nil
}

// PathID parses a chi URL parameter as an ID.
func PathID(r *http.Request, name string) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, name))
	if err != nil {
		return "", errors.BadRequest("invalid " + name)
	}
	return id, nil
}
