package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kompass/internal/logging"
)

// Registry holds all available agents and tools and provides lookup.
// It is thread-safe and supports replacement at runtime (hot reload).
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	tools  map[string]*Tool

	// byAgent provides fast lookup of an agent's tools.
	byAgent map[string][]*Tool
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:  make(map[string]*Agent),
		tools:   make(map[string]*Tool),
		byAgent: make(map[string][]*Tool),
	}
}

// RegisterAgent adds an agent to the registry.
func (r *Registry) RegisterAgent(agent *Agent) error {
	if agent.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.Name] = agent

	logging.Get(logging.CategoryCatalog).Debug("registered agent: %s", agent.Name)
	return nil
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	if tool.Priority == 0 {
		tool.Priority = 50
	}

	r.tools[tool.Name] = tool
	r.byAgent[tool.Agent] = append(r.byAgent[tool.Agent], tool)

	logging.Get(logging.CategoryCatalog).Debug("registered tool: %s (agent=%s, meta=%v)", tool.Name, tool.Agent, tool.Meta)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static registration at init time.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Agent returns an agent by name, or nil if not found.
func (r *Registry) Agent(name string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// Agents returns all registered agents sorted by name.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// ToolsFor returns all tools owned by an agent, sorted by priority
// (highest first).
func (r *Registry) ToolsFor(agent string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, len(r.byAgent[agent]))
	copy(tools, r.byAgent[agent])
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Priority > tools[j].Priority
	})
	return tools
}

// GetMultiple returns tools matching the given names.
// Missing tools are silently skipped.
func (r *Registry) GetMultiple(names []string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			result = append(result, tool)
		}
	}
	return result
}

// All returns all registered tools.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	return result
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Version stamps the catalog content so caches keyed on agent/tool
// combinations can be invalidated when the catalog changes.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%d:%x", len(names), fnvHash(names))
}

func fnvHash(names []string) uint64 {
	// FNV-1a over the sorted tool names.
	var h uint64 = 14695981039346656037
	for _, n := range names {
		for i := 0; i < len(n); i++ {
			h ^= uint64(n[i])
			h *= 1099511628211
		}
		h ^= '\n'
		h *= 1099511628211
	}
	return h
}

// ReplaceAll swaps the whole catalog in one step. Used by hot reload so
// readers never observe a half-loaded catalog.
func (r *Registry) ReplaceAll(agents []*Agent, tools []*Tool) error {
	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid tool %q: %w", t.Name, err)
		}
	}

	newAgents := make(map[string]*Agent, len(agents))
	for _, a := range agents {
		newAgents[a.Name] = a
	}
	newTools := make(map[string]*Tool, len(tools))
	newByAgent := make(map[string][]*Tool)
	for _, t := range tools {
		if _, dup := newTools[t.Name]; dup {
			return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name)
		}
		if t.Priority == 0 {
			t.Priority = 50
		}
		newTools[t.Name] = t
		newByAgent[t.Agent] = append(newByAgent[t.Agent], t)
	}

	r.mu.Lock()
	r.agents = newAgents
	r.tools = newTools
	r.byAgent = newByAgent
	r.mu.Unlock()

	logging.Get(logging.CategoryCatalog).Info("catalog replaced: %d agents, %d tools", len(newAgents), len(newTools))
	return nil
}

// Execute runs a tool by name with the given arguments.
// Returns ErrToolNotFound if the tool doesn't exist.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return r.ExecuteTool(ctx, tool, args)
}

// ExecuteTool runs a specific tool with the given arguments.
func (r *Registry) ExecuteTool(ctx context.Context, tool *Tool, args map[string]any) (*ToolResult, error) {
	start := time.Now()

	if err := validateArgs(tool, args); err != nil {
		return &ToolResult{
			ToolName:   tool.Name,
			Error:      err,
			DurationMs: time.Since(start).Milliseconds(),
		}, err
	}

	log := logging.Get(logging.CategoryCatalog)
	log.Debug("executing tool: %s", tool.Name)
	result, err := tool.Execute(ctx, args)

	duration := time.Since(start)
	log.Debug("tool %s completed in %v (success=%v)", tool.Name, duration, err == nil)

	return &ToolResult{
		ToolName:   tool.Name,
		Result:     result,
		Error:      err,
		DurationMs: duration.Milliseconds(),
	}, err
}

// validateArgs checks that all required arguments are present.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
