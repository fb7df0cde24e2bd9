package recipes

import (
	"fmt"
	"sort"
	"sync"

	"github.com/forgeml/trainctl/internal/api"
)

// Registry manages the catalog of available training recipes.
//
// The Registry provides thread-safe access to recipe specifications,
// supporting concurrent queries from multiple clients. Recipes register
// themselves from init() functions in their family packages, so importing
// a family package (e.g., recipes/bert) populates the default registry.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*RecipeSpec
}

// NewRegistry creates an empty recipe registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]*RecipeSpec),
	}
}

// Register validates and adds a recipe spec to the registry.
//
// Returns:
//   - Error if the spec is invalid or the ID is already taken
func (r *Registry) Register(spec *RecipeSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid recipe spec: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("recipe %s is already registered", spec.ID)
	}

	r.specs[spec.ID] = spec
	return nil
}

// Get returns the spec for a recipe ID.
//
// Returns:
//   - The spec pointer
//   - Error if no recipe with that ID exists
func (r *Registry) Get(id string) (*RecipeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("recipe not found: %s", id)
	}
	return spec, nil
}

// List returns recipes filtered by device compatibility, sorted by ID.
//
// Parameters:
//   - deviceType: The device type to filter by, or api.DeviceTypeAll
//     (or empty) for no filter
func (r *Registry) List(deviceType api.DeviceType) []*RecipeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*RecipeSpec
	for _, spec := range r.specs {
		if deviceType == "" || deviceType == api.DeviceTypeAll || spec.SupportsDevice(deviceType) {
			result = append(result, spec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// defaultRegistry is populated by family packages from init().
var defaultRegistry = NewRegistry()

// GetDefaultRegistry returns the process-wide registry.
func GetDefaultRegistry() *Registry {
	return defaultRegistry
}

// MustRegister registers a spec with the default registry and panics on
// error. Intended for init() functions in family packages, where a bad
// spec is a programming error.
func MustRegister(spec *RecipeSpec) {
	if err := defaultRegistry.Register(spec); err != nil {
		panic(fmt.Sprintf("recipes: %v", err))
	}
}
