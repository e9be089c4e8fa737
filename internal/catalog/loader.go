package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// toolSpec is one tool entry in the YAML catalog file. The handler field
// names an ExecuteFunc registered in code; specs with unknown handlers
// fail the load so a typo cannot silently produce a dead tool.
type toolSpec struct {
	Name        string     `yaml:"name"`
	Agent       string     `yaml:"agent"`
	Description string     `yaml:"description"`
	Source      string     `yaml:"source"`
	Meta        bool       `yaml:"meta"`
	Category    string     `yaml:"category"`
	Triggers    []string   `yaml:"triggers"`
	Baseline    bool       `yaml:"baseline"`
	Handler     string     `yaml:"handler"`
	Priority    int        `yaml:"priority"`
	Schema      ToolSchema `yaml:"schema"`
}

// catalogFile is the YAML catalog document.
type catalogFile struct {
	Agents []*Agent   `yaml:"agents"`
	Tools  []toolSpec `yaml:"tools"`
}

// HandlerMap binds handler names used in the catalog file to execute
// functions registered in code.
type HandlerMap map[string]ExecuteFunc

// Load reads a YAML catalog file and returns a populated registry.
func Load(path string, handlers HandlerMap) (*Registry, error) {
	agents, tools, err := parseFile(path, handlers)
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	if err := r.ReplaceAll(agents, tools); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the catalog file into an existing registry. On any
// error the registry keeps its previous content.
func (r *Registry) Reload(path string, handlers HandlerMap) error {
	agents, tools, err := parseFile(path, handlers)
	if err != nil {
		return err
	}
	return r.ReplaceAll(agents, tools)
}

func parseFile(path string, handlers HandlerMap) ([]*Agent, []*Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	known := make(map[string]bool, len(cf.Agents))
	for _, a := range cf.Agents {
		if a.Name == "" {
			return nil, nil, fmt.Errorf("catalog agent with empty name")
		}
		known[a.Name] = true
	}

	tools := make([]*Tool, 0, len(cf.Tools))
	for _, spec := range cf.Tools {
		fn, ok := handlers[spec.Handler]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q (tool %s)", ErrUnknownHandler, spec.Handler, spec.Name)
		}
		if !known[spec.Agent] {
			return nil, nil, fmt.Errorf("%w: %q (tool %s)", ErrAgentNotFound, spec.Agent, spec.Name)
		}
		tools = append(tools, &Tool{
			Name:        spec.Name,
			Agent:       spec.Agent,
			Description: spec.Description,
			Source:      spec.Source,
			Meta:        spec.Meta,
			Category:    spec.Category,
			Triggers:    spec.Triggers,
			Baseline:    spec.Baseline,
			Execute:     fn,
			Schema:      spec.Schema,
			Priority:    spec.Priority,
		})
	}

	return cf.Agents, tools, nil
}
