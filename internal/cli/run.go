// internal/cli/run.go
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmux-cli/cdpscript/internal/browser"
	"github.com/cmux-cli/cdpscript/internal/executor"
	"github.com/cmux-cli/cdpscript/internal/report"
	"github.com/cmux-cli/cdpscript/internal/script"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

// newSession opens the CDP session used by run, generate --run and serve.
// Tests replace it with a fake.
var newSession = func(opts browser.Options) (executor.Session, func() error) {
	b := browser.New(opts)
	return b, b.Close
}

type RunOutput struct {
	Status     string           `json:"status"`
	Message    string           `json:"message"`
	Validation *validate.Result `json:"validation,omitzero"`
	Report     *report.Report   `json:"execution_report,omitzero"`
}

func (o RunOutput) TextOutput() string {
	var b strings.Builder
	if o.Validation != nil && (!o.Validation.Valid || len(o.Validation.Warnings) > 0) {
		b.WriteString(o.Validation.Format())
	}
	if o.Report != nil {
		for _, r := range o.Report.Results {
			b.WriteString(formatStep(r, o.Report.TotalCommands))
			b.WriteByte('\n')
		}
		b.WriteString(o.Report.Summary())
		b.WriteByte('\n')
	}
	if o.Status != "success" && o.Message != "" {
		fmt.Fprintf(&b, "%s\n", o.Message)
	}
	return b.String()
}

func formatStep(r report.Result, total int) string {
	prefix := fmt.Sprintf("[%d/%d] %s", r.Step, total, r.Method)
	switch r.Status {
	case report.StatusSuccess:
		line := fmt.Sprintf("✓ %s (%s)", prefix, r.Duration.Round(time.Millisecond))
		if r.SavedFile != "" {
			line += " → " + r.SavedFile
		}
		return line
	case report.StatusFailed:
		return fmt.Sprintf("✗ %s: %s", prefix, r.Error)
	default:
		return fmt.Sprintf("- %s (skipped)", prefix)
	}
}

var runCmd = &cobra.Command{
	Use:   "run <script.json>",
	Short: "Validate and run a script against Chrome",
	Long: `Validate a script and, if it is valid, run its commands in order
against a Chrome instance with remote debugging enabled.

Failure policies:
  stop      Stop at the first failed command (default)
  skip      Record the failure and mark the remaining commands skipped
  continue  Record the failure and keep going

Examples:
  cdpscript run login.json
  cdpscript run login.json --policy=continue --output-dir=./shots
  cdpscript run login.json --cdp-url=http://10.0.0.5:9222
  cdpscript run login.json --launch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readScriptFile(cmd, args[0])
		if err != nil {
			return err
		}

		res := validate.New(reg).ValidateJSON(data)
		if !res.Valid {
			out := RunOutput{Status: "invalid", Message: res.Err().Error(), Validation: res}
			if err := OutputResult(out); err != nil {
				return err
			}
			return reported(res.Err())
		}
		s, err := script.Parse(data)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runScript(ctx, cmd, s, res)
	},
}

func init() {
	addRunFlags(runCmd)
	addBrowserFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("policy", "", "Failure policy: stop, skip or continue (default from config)")
	cmd.Flags().Duration("command-timeout", 0, "Per-command timeout (default from config)")
	cmd.Flags().String("output-dir", "", "Directory for relative save_as paths")
}

func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().String("cdp-url", "", "Chrome remote debugging URL (default from config)")
	cmd.Flags().Bool("launch", false, "Launch a local Chrome instead of attaching")
}

func browserOptions(cmd *cobra.Command, logger *log.Logger) browser.Options {
	opts := browser.Options{
		DebugURL:       cfg.Browser.DebugURL,
		Launch:         cfg.Browser.Launch,
		Headless:       cfg.Browser.Headless,
		ExecPath:       cfg.Browser.ExecPath,
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         logger,
	}
	if url, _ := cmd.Flags().GetString("cdp-url"); url != "" {
		opts.DebugURL = url
	}
	if cmd.Flags().Changed("launch") {
		opts.Launch, _ = cmd.Flags().GetBool("launch")
	}
	return opts
}

func resolvePolicy(cmd *cobra.Command) (executor.Policy, error) {
	if p, _ := cmd.Flags().GetString("policy"); p != "" {
		policy, err := executor.ParsePolicy(p)
		if err != nil {
			return policy, NewUsageError(err.Error())
		}
		return policy, nil
	}
	return cfg.Policy(), nil
}

func resolveCommandTimeout(cmd *cobra.Command) time.Duration {
	if cmd.Flags().Changed("command-timeout") {
		timeout, _ := cmd.Flags().GetDuration("command-timeout")
		return timeout
	}
	return cfg.CommandTimeout()
}

func resolveOutputDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		return dir
	}
	return cfg.Execution.OutputDir
}

func executorOptions(cmd *cobra.Command, logger *log.Logger, total int) ([]executor.Option, error) {
	policy, err := resolvePolicy(cmd)
	if err != nil {
		return nil, err
	}

	opts := []executor.Option{
		executor.WithPolicy(policy),
		executor.WithCommandTimeout(resolveCommandTimeout(cmd)),
		executor.WithOutputDir(resolveOutputDir(cmd)),
		executor.WithLogger(logger),
	}
	if flagVerbose && !flagJSON {
		opts = append(opts, executor.WithObserver(func(r report.Result) {
			fmt.Fprintln(os.Stderr, formatStep(r, total))
		}))
	}
	return opts, nil
}

// runScript executes a validated script and reports the outcome.
func runScript(ctx context.Context, cmd *cobra.Command, s *script.Script, res *validate.Result) error {
	logger := newLogger()
	opts, err := executorOptions(cmd, logger, len(s.Commands))
	if err != nil {
		return err
	}

	session, closeSession := newSession(browserOptions(cmd, logger))
	defer closeSession()

	rep, err := executor.New(reg, session, opts...).Run(ctx, s)
	if rep == nil {
		return err
	}

	out := RunOutput{Status: "success", Message: rep.Summary(), Validation: res, Report: rep}
	switch {
	case err != nil:
		out.Status = "error"
		out.Message = fmt.Sprintf("run interrupted: %v", err)
	case !rep.IsSuccess():
		out.Status = "failed"
		out.Message = rep.FailureMessage()
	}
	if outErr := OutputResult(out); outErr != nil {
		return outErr
	}

	if err != nil {
		return reported(err)
	}
	if !rep.IsSuccess() {
		return reported(fmt.Errorf("%w: %s", errRunFailed, out.Message))
	}
	return nil
}
