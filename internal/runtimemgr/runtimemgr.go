// Package runtimemgr translates a requested runtime variant into a concrete
// Colab assignment, reusing an existing one when possible.
package runtimemgr

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/lecoder-dev/lecoder/internal/colabapi"
	"github.com/lecoder-dev/lecoder/internal/connection"
)

// Runtime is a Runtime Assignment paired with fresh Proxy Credentials and a
// display label.
type Runtime struct {
	Label       string
	Accelerator string
	Endpoint    string
	Proxy       colabapi.ProxyCredentials
	Variant     colabapi.Variant
}

// Request describes what the caller wants from AssignRuntime.
type Request struct {
	Variant     colabapi.Variant
	ForceNew    bool
	Accelerator string
}

// Manager assigns and reuses Colab runtimes on behalf of the Session
// Manager, always via the injected colabapi.Client rather than a concrete
// transport.
type Manager struct {
	api          *colabapi.Client
	notebookHash string
}

// New creates a Manager. notebookHash is the client-chosen stable UUID used
// only as Colab's assignment cache key; pass a value persisted across runs
// so repeat assigns for the same install land on the same cache entry.
func New(api *colabapi.Client, notebookHash string) *Manager {
	if notebookHash == "" {
		notebookHash = uuid.NewString()
	}
	return &Manager{api: api, notebookHash: notebookHash}
}

// VariantMismatchError is returned when forceNew is false, assignments
// exist, but none match the requested variant — AssignRuntime never
// silently substitutes a different variant for the one requested.
type VariantMismatchError struct {
	Requested colabapi.Variant
	Available []colabapi.Variant
}

func (e *VariantMismatchError) Error() string {
	return fmt.Sprintf("runtimemgr: no existing assignment matches variant %s (available: %v)", e.Requested, e.Available)
}

// AssignRuntime returns a Runtime satisfying req, reusing a matching live
// assignment unless ForceNew is set.
func (m *Manager) AssignRuntime(ctx context.Context, req Request) (*Runtime, error) {
	if !req.ForceNew {
		runtime, err := m.tryReuse(ctx, req)
		if err != nil {
			return nil, err
		}
		if runtime != nil {
			return runtime, nil
		}
	}

	assignment, err := m.api.Assign(ctx, m.notebookHash, req.Variant, req.Accelerator)
	if err != nil {
		return nil, fmt.Errorf("runtimemgr: assign: %w", err)
	}
	if assignment.Variant != req.Variant {
		return nil, fmt.Errorf("runtimemgr: assign returned variant %s for requested %s", assignment.Variant, req.Variant)
	}

	proxy, err := m.api.RefreshConnection(ctx, assignment.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("runtimemgr: refresh new assignment: %w", err)
	}

	return &Runtime{
		Label:       labelFor(*assignment),
		Accelerator: assignment.Accelerator,
		Endpoint:    assignment.Endpoint,
		Proxy:       *proxy,
		Variant:     assignment.Variant,
	}, nil
}

// tryReuse looks for a live assignment matching the requested variant. It
// returns (nil, nil) when none exists — not an error — so the caller falls
// through to a fresh assign.
func (m *Manager) tryReuse(ctx context.Context, req Request) (*Runtime, error) {
	assignments, err := m.api.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtimemgr: list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	var available []colabapi.Variant
	for _, a := range assignments {
		available = append(available, a.Variant)
		if a.Variant != req.Variant {
			continue
		}
		proxy, err := m.api.RefreshConnection(ctx, a.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("runtimemgr: refresh reused assignment: %w", err)
		}
		klog.Infof("runtimemgr: reusing assignment %s (variant=%s)", a.Endpoint, a.Variant)
		return &Runtime{
			Label:       labelFor(a),
			Accelerator: a.Accelerator,
			Endpoint:    a.Endpoint,
			Proxy:       *proxy,
			Variant:     a.Variant,
		}, nil
	}

	return nil, &VariantMismatchError{Requested: req.Variant, Available: available}
}

func labelFor(a colabapi.Assignment) string {
	if a.Accelerator != "" && a.Accelerator != "none" {
		return fmt.Sprintf("%s-%s", a.Variant, a.Accelerator)
	}
	return string(a.Variant)
}

// CreateKernelConnection builds and initializes a Connection for runtime,
// using the given Jupyter session path and kernel spec name.
func (m *Manager) CreateKernelConnection(ctx context.Context, runtime *Runtime, sessionPath, kernelName string) (*connection.Connection, error) {
	conn := connection.New(m.api, runtime.Endpoint, sessionPath, kernelName)
	if err := conn.EnsureConnected(ctx); err != nil {
		return nil, fmt.Errorf("runtimemgr: initialize connection: %w", err)
	}
	return conn, nil
}
