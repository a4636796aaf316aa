package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/harun/concierge/internal/config"
	"github.com/spf13/cobra"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	Long: `Load the config file, CONCIERGE_* environment variables and the tenant
file, then report every problem found, including missing secrets.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configValidateCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		var missing *config.MissingEnvError
		if errors.As(err, &missing) {
			fmt.Fprintf(out, "Missing environment variables (referenced in %s):\n", missing.Path)
			for _, name := range missing.Names {
				fmt.Fprintf(out, "  - %s\n", name)
			}
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	var problems []error
	if err := cfg.Validate(); err != nil {
		problems = append(problems, err)
	}
	problems = append(problems, config.NewValidator().ValidateConfig(cfg)...)

	if len(problems) > 0 {
		fmt.Fprintln(out, "Configuration problems:")
		for _, p := range problems {
			fmt.Fprintf(out, "  - %v\n", p)
		}
		return fmt.Errorf("configuration is invalid (%d problems)", len(problems))
	}

	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "Models: %d profile(s)\n", len(cfg.Models))
	fmt.Fprintf(out, "Knowledge: %s\n", cfg.Knowledge.Path)
	fmt.Fprintf(out, "Store: %s\n", cfg.Store.Backend)
	if cfg.Tenant != "" {
		fmt.Fprintf(out, "Tenant: %s\n", cfg.Tenant)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	if err := loader.Save(config.DefaultConfig()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Add a model profile under models, or set --tenant, before serving.")
	return nil
}
