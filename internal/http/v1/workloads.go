package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/skiffworks/skiff/internal/ctxlog"
	"github.com/skiffworks/skiff/internal/workloads"
)

// createWorkload handles POST /workloads/{namespace}
func (h *Handlers) createWorkload(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	var wl workloads.Workload
	if err := json.NewDecoder(r.Body).Decode(&wl); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	wl.Namespace = namespace
	if wl.ID == "" {
		wl.ID = uuid.NewString()
	}
	if wl.Name == "" {
		wl.Name = wl.ID
	}
	if err := wl.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Store.Put(r.Context(), &wl); err != nil {
		ctxlog.FromContext(r.Context()).WithError(err).Error("store workload failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/workloads/%s/%s", namespace, wl.ID))
	writeJSON(w, http.StatusCreated, wl)
}

// listWorkloads handles GET /workloads/{namespace}
func (h *Handlers) listWorkloads(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	items, err := h.Store.List(r.Context(), namespace)
	if err != nil {
		ctxlog.FromContext(r.Context()).WithError(err).Error("list workloads failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getWorkload handles GET /workloads/{namespace}/{workloadId}
func (h *Handlers) getWorkload(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Store.Get(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "workloadId"))
	if err != nil {
		if errors.Is(err, workloads.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "workload not found"})
			return
		}
		ctxlog.FromContext(r.Context()).WithError(err).Error("get workload failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// deleteWorkload handles DELETE /workloads/{namespace}/{workloadId}
func (h *Handlers) deleteWorkload(w http.ResponseWriter, r *http.Request) {
	err := h.Store.Delete(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "workloadId"))
	if err != nil {
		if errors.Is(err, workloads.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "workload not found"})
			return
		}
		ctxlog.FromContext(r.Context()).WithError(err).Error("delete workload failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
