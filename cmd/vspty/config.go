package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/vspty"
	"github.com/srg/vspty/pkg/config"
	"gopkg.in/yaml.v3"
)

// configCmd prints the configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration",
	Long: `Prints the documented default configuration file. Redirect it to a file,
edit it and pass it back with --config.

With --effective, prints the configuration that commands would actually use:
defaults, then --config, then the VSPTY_* environment variables.

Example:
  vspty config > vspty.yaml
  vspty --config vspty.yaml config --effective`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configEffective bool

func init() {
	configCmd.Flags().BoolVar(&configEffective, "effective", false, "Print the resolved configuration instead of the defaults")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configEffective {
		_, err := fmt.Fprint(cmd.OutOrStdout(), vspty.DefaultConfigYAML)
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// loadConfig resolves the configuration for a command: defaults, then the
// --config file, then the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}
