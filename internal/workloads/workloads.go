// Package workloads holds the declarative workload definitions the API
// controller manages, and materializes instances from them.
package workloads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/skiffworks/skiff/internal/rpc"
)

// ErrNotFound is returned when a workload id is unknown in a namespace.
var ErrNotFound = errors.New("workload not found")

// Workload describes a desired execution: image, environment, ports, and
// declared resource limits. Many instances can be materialized from one
// workload.
type Workload struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Namespace   string              `json:"namespace"`
	Type        rpc.WorkloadType    `json:"type"`
	URI         string              `json:"uri"`
	Environment []string            `json:"environment"`
	Resources   rpc.ResourceSummary `json:"resources"`
	Ports       []rpc.Port          `json:"ports"`
}

func (w *Workload) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workload id is required")
	}
	if w.Namespace == "" {
		return fmt.Errorf("workload namespace is required")
	}
	if w.URI == "" {
		return fmt.Errorf("workload uri is required")
	}
	return nil
}

// Instantiate materializes a new instance from the workload. Each call
// produces a distinct id and name so concurrently created instances of the
// same workload never collide.
func (w *Workload) Instantiate() *rpc.Instance {
	suffix := suffix()
	limit := w.Resources
	return &rpc.Instance{
		ID:          w.ID + "-" + suffix,
		Name:        w.Name + "-" + suffix,
		Type:        w.Type,
		Status:      rpc.StatusScheduling,
		Environment: append([]string(nil), w.Environment...),
		Ports:       append([]rpc.Port(nil), w.Ports...),
		Resource:    &rpc.Resource{Limit: &limit},
		URI:         w.URI,
	}
}

// suffix returns a short collision-resistant disambiguator.
func suffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}

// Store persists workload definitions.
type Store interface {
	Put(ctx context.Context, w *Workload) error
	Get(ctx context.Context, namespace, id string) (*Workload, error)
	List(ctx context.Context, namespace string) ([]*Workload, error)
	Delete(ctx context.Context, namespace, id string) error
}
