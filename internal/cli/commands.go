// internal/cli/commands.go
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type CommandInfo struct {
	Method      string   `json:"method"`
	Summary     string   `json:"summary"`
	Required    []string `json:"required"`
	Optional    []string `json:"optional"`
	SavesOutput bool     `json:"saves_output"`
	Example     string   `json:"example,omitempty"`
}

type CommandsOutput struct {
	Commands []CommandInfo `json:"commands"`
}

func (o CommandsOutput) TextOutput() string {
	var b strings.Builder
	for _, c := range o.Commands {
		fmt.Fprintf(&b, "%-32s %s\n", c.Method, c.Summary)
		if len(c.Required) > 0 {
			fmt.Fprintf(&b, "  required: %s\n", strings.Join(c.Required, ", "))
		}
		if len(c.Optional) > 0 {
			fmt.Fprintf(&b, "  optional: %s\n", strings.Join(c.Optional, ", "))
		}
		if c.SavesOutput {
			b.WriteString("  supports save_as\n")
		}
		if len(o.Commands) == 1 && c.Example != "" {
			fmt.Fprintf(&b, "  example:  %s\n", c.Example)
		}
	}
	return b.String()
}

var commandsCmd = &cobra.Command{
	Use:   "commands [method]",
	Short: "List the supported CDP methods",
	Long: `List the CDP methods scripts may use, with their parameters.

Examples:
  cdpscript commands
  cdpscript commands Page.captureScreenshot`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out CommandsOutput
		for _, e := range reg.Entries() {
			if len(args) == 1 && e.Method != args[0] {
				continue
			}
			out.Commands = append(out.Commands, CommandInfo{
				Method:      e.Method,
				Summary:     e.Summary,
				Required:    e.Schema.Required,
				Optional:    e.Schema.Optional,
				SavesOutput: e.SavesOutput,
				Example:     e.Example,
			})
		}
		if len(args) == 1 && len(out.Commands) == 0 {
			return NewUsageError(fmt.Sprintf("unknown CDP method %q (run 'cdpscript commands' for the full list)", args[0]))
		}
		return OutputResult(out)
	},
}
