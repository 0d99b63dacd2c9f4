// internal/cli/validate.go
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmux-cli/cdpscript/internal/validate"
)

type FileValidation struct {
	File   string           `json:"file"`
	Result *validate.Result `json:"result"`
}

type ValidateOutput struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

func (o ValidateOutput) TextOutput() string {
	var b strings.Builder
	for _, f := range o.Files {
		fmt.Fprintf(&b, "%s: %s", f.File, f.Result.Format())
	}
	return b.String()
}

var validateCmd = &cobra.Command{
	Use:   "validate <script.json>...",
	Short: "Validate scripts without running them",
	Long: `Validate one or more scripts against the supported CDP methods.

Every problem is reported with its location, not just the first.
Use - to read a script from stdin.

Examples:
  cdpscript validate login.json
  cdpscript validate scripts/*.json
  cat login.json | cdpscript validate -`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := validate.New(reg)
		out := ValidateOutput{Valid: true}
		invalid := 0

		for _, path := range args {
			data, err := readScriptFile(cmd, path)
			if err != nil {
				return err
			}
			res := v.ValidateJSON(data)
			if !res.Valid {
				out.Valid = false
				invalid++
			}
			out.Files = append(out.Files, FileValidation{File: path, Result: res})
		}

		if err := OutputResult(out); err != nil {
			return err
		}
		if invalid > 0 {
			return reported(fmt.Errorf("%w: %d of %d script(s) invalid", validate.ErrInvalid, invalid, len(args)))
		}
		return nil
	},
}

// readScriptFile reads path, or stdin when path is "-".
func readScriptFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return data, nil
}
