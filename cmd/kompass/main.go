package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kompass/internal/config"
	"kompass/internal/logging"
)

var (
	// Global flags
	configPath string
	workspace  string
	debugMode  bool

	// Loaded in PersistentPreRunE, shared by all subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kompass",
	Short: "kompass - supervisor orchestration engine for Swedish civic data",
	Long: `kompass routes a user question through specialized domain agents
(weather, traffic, municipal statistics, company registry, parliament),
selects an execution strategy, and converges on one answer under hard
anti-looping bounds with optional human-approval checkpoints.

Run without arguments to start the interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if debugMode {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(workspace, logging.Config{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kompass.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory for state and logs")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kompass version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kompass %s\n", cfg.Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
