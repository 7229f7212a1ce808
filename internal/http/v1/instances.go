package v1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/ctxlog"
	"github.com/skiffworks/skiff/internal/rpc"
	"github.com/skiffworks/skiff/internal/workloads"
)

// createInstance handles PUT /instances/{namespace}/{workloadId}. It
// instantiates the named workload and submits it to the scheduler. The
// response is written once the first placement status arrives so that
// capacity errors surface to the caller; later status updates are drained
// in the background.
func (h *Handlers) createInstance(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	wl, err := h.Store.Get(r.Context(), namespace, chi.URLParam(r, "workloadId"))
	if err != nil {
		if errors.Is(err, workloads.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "workload not found"})
			return
		}
		ctxlog.FromContext(r.Context()).WithError(err).Error("get workload failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}

	inst := wl.Instantiate()

	// The create stream must outlive this request, a hung-up HTTP
	// client should not tear down a placement in progress.
	ctx := context.WithoutCancel(r.Context())
	stream, err := h.Instances.Create(ctx, inst)
	if err != nil {
		writeRPCError(w, r, err)
		return
	}
	st, err := stream.Recv()
	if err != nil {
		writeRPCError(w, r, err)
		return
	}
	go h.drainStatuses(inst.ID, stream)

	w.Header().Set("Location", fmt.Sprintf("/api/v1/instances/%s/%s", namespace, inst.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"instance": inst,
		"status":   st,
	})
}

func (h *Handlers) drainStatuses(id string, stream rpc.InstanceService_CreateClient) {
	for {
		st, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.Logger.WithError(err).WithField("instance", id).Warn("status stream closed")
			}
			return
		}
		h.Logger.WithFields(logrus.Fields{
			"instance": id,
			"status":   st.Status.String(),
		}).Info("instance status")
	}
}

// getInstance handles GET /instances/{namespace}/{instanceId}
func (h *Handlers) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.Instances.Get(r.Context(), &rpc.InstanceLookup{ID: chi.URLParam(r, "instanceId")})
	if err != nil {
		writeRPCError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// stopInstance handles POST /instances/{namespace}/{instanceId}/stop
func (h *Handlers) stopInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceId")
	if _, err := h.Instances.Stop(r.Context(), &rpc.InstanceLookup{ID: id}); err != nil {
		writeRPCError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "stopping"})
}

// deleteInstance handles DELETE /instances/{namespace}/{instanceId}
func (h *Handlers) deleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceId")
	if _, err := h.Instances.Destroy(r.Context(), &rpc.InstanceLookup{ID: id}); err != nil {
		writeRPCError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "destroyed"})
}
