package tool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Morlock52/psscript-sub005/internal/llm"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

// Registry manages tool registration and discovery. It is built once at
// startup and provides the tool definitions advertised to the model.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics map[string]*Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		metrics: make(map[string]*Metrics),
	}
}

// Register adds a tool to the registry.
// Returns TOOL_ALREADY_EXISTS if a tool with the same name is registered.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return types.NewError(types.TOOL_INVALID_INPUT, "tool cannot be nil")
	}

	name := t.Name()
	if name == "" {
		return types.NewError(types.TOOL_INVALID_INPUT, "tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return types.NewError(types.TOOL_ALREADY_EXISTS, fmt.Sprintf("tool %q already registered", name))
	}

	r.tools[name] = t
	r.metrics[name] = NewMetrics()

	return nil
}

// Get retrieves a tool by name.
// Returns TOOL_NOT_FOUND if the tool doesn't exist.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tools[name]
	if !exists {
		return nil, types.NewError(types.TOOL_NOT_FOUND, fmt.Sprintf("tool %q not found", name))
	}

	return t, nil
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// List returns descriptors for all registered tools, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		descriptors = append(descriptors, NewDescriptor(t))
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	return descriptors
}

// Defs returns the tool definitions advertised to the model, sorted by name
// so prompts are deterministic across runs.
func (r *Registry) Defs() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})

	return defs
}

// Metrics returns execution metrics for a specific tool.
// Returns TOOL_NOT_FOUND if the tool doesn't exist.
func (r *Registry) Metrics(name string) (Metrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.metrics[name]
	if !exists {
		return Metrics{}, types.NewError(types.TOOL_NOT_FOUND, fmt.Sprintf("tool %q not found", name))
	}

	// Return a copy to prevent external modification
	return *m, nil
}

// record updates metrics for a tool execution.
func (r *Registry) record(name string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.metrics[name]
	if !exists {
		return
	}
	if success {
		m.RecordSuccess(duration)
	} else {
		m.RecordFailure(duration)
	}
}
