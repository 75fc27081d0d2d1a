package capability

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Errors for registry operations.
var (
	ErrNotRegistered = errors.New("capability not registered")
	ErrDuplicateName = errors.New("capability already registered")
	ErrInvalidName   = errors.New("invalid capability name: must be alphanumeric with hyphens/underscores")
)

// namePattern validates capability names.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Registry maps capability names to implementations. All lookups the
// control plane performs at runtime go through here; Validate is called
// once at startup with every name the loaded pipeline references.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]Capability
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		caps:   make(map[string]Capability),
		logger: logger,
	}
}

// Register adds a capability. Names must be unique and filesystem-safe.
func (r *Registry) Register(c Capability) error {
	name := c.Name()
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.caps[name] = c

	r.logger.Debug("registered capability", zap.String("name", name))
	return nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return c, nil
}

// Invoke resolves name and invokes it in one step.
func (r *Registry) Invoke(ctx context.Context, name, task string, inputs []string, options map[string]any) (*Result, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, task, inputs, options)
}

// Validate checks that every required name is registered. It is called at
// startup with the capability names referenced by the loaded pipeline and
// gate definitions.
func (r *Registry) Validate(required []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, name := range required {
		if _, ok := r.caps[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrNotRegistered, missing)
	}
	return nil
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
