// internal/cli/config.go
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cmux-cli/cdpscript/internal/config"
)

type ConfigOutput struct {
	Path   string         `json:"path"`
	Config *config.Config `json:"config"`
}

func (o ConfigOutput) TextOutput() string {
	data, err := yaml.Marshal(o.Config)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("# %s\n%s", o.Path, data)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return OutputResult(ConfigOutput{Path: configPath(), Config: cfg})
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return NewUsageError(fmt.Sprintf("config file %s already exists (use --force to overwrite)", path))
		}
		def := config.DefaultConfig()
		if err := def.Save(path); err != nil {
			return err
		}
		return OutputResult(ConfigOutput{Path: path, Config: def})
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}
