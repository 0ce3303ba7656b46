package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"alertcore/internal/condition"
	"alertcore/internal/config"
	"alertcore/internal/definitions"
)

var (
	// set by ldflags
	version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "alertcore",
		Short:         "Alert evaluation and lifecycle service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path (yaml or json)")

	rootCmd.AddCommand(
		newServeCmd(),
		newInitConfigCmd(),
		newValidateConfigCmd(),
		newCheckExpressionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newInitConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the config file and the trigger definitions it names",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(configPath))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: storage=%s api=%t kafka=%t\n", cfg.Storage.Driver, cfg.API.Enabled, cfg.Ingest.Kafka.Enabled)
			if cfg.TriggersFile == "" {
				return nil
			}
			defs := definitions.NewStore()
			if err := defs.LoadFile(cfg.TriggersFile); err != nil {
				return fmt.Errorf("triggers: %w", err)
			}
			fmt.Fprintf(out, "triggers ok: %d loaded from %s\n", len(defs.AllTriggers()), cfg.TriggersFile)
			return nil
		},
	}
}

func newCheckExpressionCmd() *cobra.Command {
	var dataID string
	var useExpr bool
	cmd := &cobra.Command{
		Use:   "check-expression <expression>",
		Short: "Compile an event condition expression and report errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := condition.Header{TenantID: "cli", TriggerID: "cli", ConditionSetSize: 1, ConditionSetIndex: 1}
			var c *condition.EventCondition
			if useExpr {
				c = condition.NewEventCondition(h, dataID, "", args[0])
			} else {
				c = condition.NewEventCondition(h, dataID, args[0], "")
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", c.DisplayString())
			return nil
		},
	}
	cmd.Flags().StringVar(&dataID, "data-id", "", "dataId the condition applies to")
	cmd.Flags().BoolVar(&useExpr, "expr", false, "treat the argument as an expr-lang program")
	return cmd
}
