package boot

import (
	"errors"
	"fmt"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
)

// ErrUnavailable is returned by an InitSpec's Apply when the subsystem the
// spec initializes is not present in this deployment (for example an
// optional storage backend that was not configured). Only specs marked
// Optional may swallow it; any other error from Apply propagates so that a
// broken dependency inside an available subsystem is never masked.
var ErrUnavailable = errors.New("init target unavailable")

// Target is anything an init spec can be applied against. Specs with
// NeedsServer set are tracked once per Target instance rather than once per
// process; the server instance implements this to expose its applied set.
type Target interface {
	AppliedInitSpecs() map[string]bool
}

// InitSpec describes one startup initialization step.
type InitSpec struct {
	// Name is the stable identifier used for idempotency tracking.
	Name string
	// MinimumPhase gates when the spec may be applied.
	MinimumPhase Phase
	// NeedsServer means the spec is applied once per server instance
	// instead of once per process, and Apply receives that instance.
	NeedsServer bool
	// Optional means Apply returning ErrUnavailable is recorded as a skip
	// instead of a failure. Errors other than ErrUnavailable still
	// propagate.
	Optional bool
	// IgnoreErrors means failures from Apply are logged and skipped.
	IgnoreErrors bool
	// Apply performs the step. The target is nil unless NeedsServer is set.
	Apply func(target Target) error
}

// Registry applies InitSpecs in order with phase and idempotency guarantees.
type Registry struct {
	logger  *observability.Logger
	applied map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger) *Registry {
	return &Registry{
		logger:  logger,
		applied: make(map[string]bool),
	}
}

// Applied reports whether a spec has been applied process-wide.
func (r *Registry) Applied(name string) bool {
	return r.applied[name]
}

// Apply runs one spec. It returns true when the spec's Apply function ran
// and succeeded, false when it was skipped (already applied, or optional
// and unavailable).
func (r *Registry) Apply(spec InitSpec, target Target) (bool, error) {
	if err := RequireAtLeast(spec.MinimumPhase, fmt.Sprintf("init spec %q", spec.Name)); err != nil {
		return false, err
	}

	var appliedSet map[string]bool
	if spec.NeedsServer {
		if target == nil {
			return false, fmt.Errorf("init spec %q requires a server instance", spec.Name)
		}
		appliedSet = target.AppliedInitSpecs()
	} else {
		appliedSet = r.applied
	}
	if appliedSet[spec.Name] {
		return false, nil
	}

	err := spec.Apply(target)
	switch {
	case err == nil:
	case spec.Optional && errors.Is(err, ErrUnavailable):
		// The subsystem itself is absent. A failing dependency inside a
		// present subsystem must not take this path.
		r.logger.WithField("init_spec", spec.Name).Debug("optional init target unavailable, skipping")
		return false, nil
	case spec.IgnoreErrors:
		r.logger.WithField("init_spec", spec.Name).WithError(err).Warn("init spec failed, continuing")
		return false, nil
	default:
		return false, fmt.Errorf("init spec %q: %w", spec.Name, err)
	}

	appliedSet[spec.Name] = true
	RecordEvent(spec.Name)
	return true, nil
}

// ApplyAll runs specs in order, stopping at the first propagated error.
func (r *Registry) ApplyAll(specs []InitSpec, target Target) error {
	for _, spec := range specs {
		if _, err := r.Apply(spec, target); err != nil {
			return err
		}
	}
	return nil
}
