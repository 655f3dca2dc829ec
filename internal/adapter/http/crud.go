package http

import (
	"context"
	"net/http"
)

// ---------------------------------------------------------------------------
// Generic record handler factories
// ---------------------------------------------------------------------------

// handleList creates a handler that lists records and returns JSON.
func handleList[T any](listFn func(ctx context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := listFn(r.Context())
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeList(w, items)
	}
}

// handleListByID creates a handler that lists records scoped by the "id" URL param.
func handleListByID[T any](listFn func(ctx context.Context, id int64) ([]T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		items, err := listFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeList(w, items)
	}
}

// handleGet creates a handler that retrieves a single record by the "id" URL param.
func handleGet[T any](getFn func(ctx context.Context, id int64) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		item, err := getFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleUpdate creates a handler that decodes a JSON body and updates a record by the "id" URL param.
func handleUpdate[Req any, Res any](updateFn func(ctx context.Context, id int64, req Req) (*Res, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		req, ok := readJSON[Req](w, r, maxRequestBodySize)
		if !ok {
			return
		}
		res, err := updateFn(r.Context(), id, req)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleDelete creates a handler that deletes a record by the "id" URL param.
func handleDelete(deleteFn func(ctx context.Context, id int64) error, notFoundMsg, okMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		if err := deleteFn(r.Context(), id); err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: okMsg})
	}
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}
