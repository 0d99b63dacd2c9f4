// internal/cli/generate.go
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cmux-cli/cdpscript/internal/generator"
	"github.com/cmux-cli/cdpscript/internal/script"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

// generatorRunner overrides how the AI CLI is executed (for testing).
var generatorRunner generator.Runner

type GenerateOutput struct {
	Script  *script.Script `json:"script"`
	SavedTo string         `json:"saved_to,omitempty"`
}

func (o GenerateOutput) TextOutput() string {
	data, err := o.Script.MarshalIndent()
	if err != nil {
		return err.Error()
	}
	text := string(data)
	if o.SavedTo != "" {
		text += "\n\nSaved to " + o.SavedTo
	}
	return text
}

var generateCmd = &cobra.Command{
	Use:   "generate <request>",
	Short: "Generate a script from a natural-language request",
	Long: `Ask an AI CLI (default: claude) to write a script for a request.

The answer is validated against the supported CDP methods. Invalid
answers are sent back with the validation findings and retried.

Examples:
  cdpscript generate "take a screenshot of example.com"
  cdpscript generate "log into the staging site" --out login.json
  cdpscript generate "read the title of example.com" --run`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		request := strings.Join(args, " ")
		outPath, _ := cmd.Flags().GetString("out")
		run, _ := cmd.Flags().GetBool("run")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newScriptGenerator(cmd).GenerateWithRetry(ctx, request)
		if err != nil {
			return err
		}
		if outPath != "" {
			if err := s.Save(outPath); err != nil {
				return err
			}
		}

		if !run {
			return OutputResult(GenerateOutput{Script: s, SavedTo: outPath})
		}
		if !flagJSON {
			fmt.Fprintf(os.Stderr, "Generated %q (%d commands)\n", s.Name, len(s.Commands))
		}
		return runScript(ctx, cmd, s, validate.New(reg).ValidateScript(s))
	},
}

func init() {
	generateCmd.Flags().StringP("out", "o", "", "Write the generated script to this file")
	generateCmd.Flags().Bool("run", false, "Run the script after generating it")
	generateCmd.Flags().String("model", "", "Model passed to the AI CLI (default from config)")
	generateCmd.Flags().Int("attempts", 0, "Maximum generation attempts (default from config)")
	addRunFlags(generateCmd)
	addBrowserFlags(generateCmd)
}

func newScriptGenerator(cmd *cobra.Command) *generator.Generator {
	opts := generator.Options{
		Command:     cfg.Generator.Command,
		Model:       cfg.Generator.Model,
		MaxAttempts: cfg.Generator.MaxAttempts,
		Timeout:     cfg.GeneratorTimeout(),
		Logger:      newLogger(),
		Runner:      generatorRunner,
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		opts.Model = model
	}
	if n, _ := cmd.Flags().GetInt("attempts"); n > 0 {
		opts.MaxAttempts = n
	}
	return generator.New(reg, opts)
}
