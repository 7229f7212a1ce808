// Package v1 is the controller's REST API: workload CRUD, instance
// operations translated into scheduler RPCs, and node enrollment tokens.
package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/skiffworks/skiff/internal/ctxlog"
	"github.com/skiffworks/skiff/internal/rpc"
	"github.com/skiffworks/skiff/internal/workloads"
)

// Handlers carries the dependencies of the v1 routes.
type Handlers struct {
	Logger    *logrus.Entry
	Store     workloads.Store
	Instances rpc.InstanceServiceClient

	// EnrollSecret enables the node enrollment token endpoint.
	EnrollSecret []byte
}

// Router returns the chi.Router for REST API v1.
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()

	// Workload definitions
	r.Post("/workloads/{namespace}", h.createWorkload)
	r.Get("/workloads/{namespace}", h.listWorkloads)
	r.Get("/workloads/{namespace}/{workloadId}", h.getWorkload)
	r.Delete("/workloads/{namespace}/{workloadId}", h.deleteWorkload)

	// Instance operations
	r.Put("/instances/{namespace}/{workloadId}", h.createInstance)
	r.Get("/instances/{namespace}/{instanceId}", h.getInstance)
	r.Delete("/instances/{namespace}/{instanceId}", h.deleteInstance)
	r.Post("/instances/{namespace}/{instanceId}/stop", h.stopInstance)

	// Node enrollment
	r.Post("/nodes/enroll/token", h.createEnrollToken)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeRPCError maps scheduler errors onto HTTP statuses without echoing
// internal error strings to callers.
func writeRPCError(w http.ResponseWriter, r *http.Request, err error) {
	logger := ctxlog.FromContext(r.Context())
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, workloads.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
			return
		}
		logger.WithError(err).Error("scheduler call failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	switch st.Code() {
	case codes.NotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case codes.ResourceExhausted:
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "no capacity available"})
	case codes.Unauthenticated:
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case codes.Unavailable, codes.DeadlineExceeded:
		logger.WithError(err).Warn("scheduler unavailable")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "scheduler unavailable"})
	default:
		logger.WithError(err).Error("scheduler call failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}
