package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kompass/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the agent and tool catalog",
	RunE:  runCatalog,
}

func runCatalog(cmd *cobra.Command, args []string) error {
	handlers := catalog.NewBuiltins().Handlers()
	registry, err := catalog.Load(cfg.Catalog.Path, handlers)
	if err != nil {
		return fmt.Errorf("failed to load catalog %s: %w", cfg.Catalog.Path, err)
	}

	fmt.Fprintf(os.Stdout, "catalog %s (version %s)\n\n", cfg.Catalog.Path, registry.Version())
	for _, agent := range registry.Agents() {
		sensitive := ""
		if agent.Sensitive {
			sensitive = " [kräver godkännande]"
		}
		fmt.Fprintf(os.Stdout, "%s%s\n  %s\n", agent.Name, sensitive, agent.Description)
		for _, tool := range registry.ToolsFor(agent.Name) {
			meta := ""
			if tool.Meta {
				meta = " (meta)"
			}
			fmt.Fprintf(os.Stdout, "  - %s%s: %s\n", tool.Name, meta, tool.Description)
		}
		fmt.Fprintln(os.Stdout)
	}
	return nil
}
