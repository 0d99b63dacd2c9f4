// internal/generator/generator.go
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/script"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

// ErrNoScript is returned when the CLI output holds no script text.
var ErrNoScript = errors.New("generator returned no script")

const (
	DefaultCommand     = "claude"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 2 * time.Minute
)

// Runner runs an external command with stdin and returns its stdout.
type Runner func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// Options configures a Generator. Zero values select the defaults.
type Options struct {
	Command     string
	Model       string
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
	Logger      *log.Logger

	// Runner replaces process execution, mainly for tests.
	Runner Runner
	Now    func() time.Time
}

// Generator turns a natural-language request into a validated script by
// prompting an AI CLI.
type Generator struct {
	reg       *registry.Registry
	validator *validate.Validator
	opts      Options
}

// New returns a generator that prompts with, and validates against, reg.
func New(reg *registry.Registry, opts Options) *Generator {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{reg: reg, validator: validate.New(reg), opts: opts}
}

func execRunner(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Args returns the CLI arguments used for every invocation.
func (g *Generator) Args() []string {
	args := []string{"--print", "--output-format", "json"}
	if g.opts.Model != "" {
		args = append(args, "--model", g.opts.Model)
	}
	return args
}

// Generate makes a single attempt. When the CLI answers with a script
// that fails validation, the validation result is returned with the error
// so the caller can feed it back.
func (g *Generator) Generate(ctx context.Context, request string) (*script.Script, *validate.Result, error) {
	return g.generate(ctx, request, nil)
}

func (g *Generator) generate(ctx context.Context, request string, feedback *validate.Result) (*script.Script, *validate.Result, error) {
	if strings.TrimSpace(request) == "" {
		return nil, nil, fmt.Errorf("request cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	out, err := g.opts.Runner(ctx, g.opts.Command, g.Args(), []byte(g.Prompt(request, feedback)))
	if err != nil {
		return nil, nil, err
	}
	text, err := ResponseText(out)
	if err != nil {
		return nil, nil, err
	}
	doc := ExtractScript(text)
	if doc == "" {
		return nil, nil, ErrNoScript
	}

	res := g.validator.ValidateJSON([]byte(doc))
	if !res.Valid {
		return nil, res, fmt.Errorf("generated script is invalid: %w", res.Err())
	}
	s, err := script.Parse([]byte(doc))
	if err != nil {
		return nil, res, err
	}
	if s.Created == "" {
		s.Created = g.opts.Now().UTC().Format(time.RFC3339)
	}
	if s.Author == "" {
		s.Author = "Claude"
	}
	return s, res, nil
}

// GenerateWithRetry retries up to MaxAttempts times. Validation findings
// from a rejected attempt are included in the next prompt.
func (g *Generator) GenerateWithRetry(ctx context.Context, request string) (*script.Script, error) {
	var (
		feedback *validate.Result
		lastErr  error
	)
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		s, res, err := g.generate(ctx, request, feedback)
		if err == nil {
			g.opts.Logger.Printf("[generator] generated %q with %d commands (attempt %d)", s.Name, len(s.Commands), attempt)
			return s, nil
		}
		lastErr = err
		if res != nil {
			feedback = res
		}
		g.opts.Logger.Printf("[generator] attempt %d/%d failed: %v", attempt, g.opts.MaxAttempts, err)

		if attempt < g.opts.MaxAttempts && g.opts.RetryDelay > 0 {
			select {
			case <-time.After(g.opts.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", g.opts.MaxAttempts, lastErr)
}

// ResponseText extracts the model's answer from the CLI's JSON output
// ("result" or "text" field). Output that is not a JSON object is taken
// as the answer itself.
func ResponseText(out []byte) (string, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return "", ErrNoScript
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}

	var resp struct {
		Type    string `json:"type"`
		IsError bool   `json:"is_error"`
		Result  string `json:"result"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return "", fmt.Errorf("failed to parse generator output as JSON: %w", err)
	}
	if resp.IsError {
		return "", fmt.Errorf("generator reported an error: %s", resp.Result)
	}
	switch {
	case resp.Result != "":
		return resp.Result, nil
	case resp.Text != "":
		return resp.Text, nil
	case resp.Type == "" && json.Unmarshal(trimmed, new(script.Script)) == nil:
		// The CLI printed the script itself.
		return string(trimmed), nil
	default:
		return "", ErrNoScript
	}
}

// ExtractScript strips surrounding whitespace and a markdown code fence,
// if any, from the model's answer.
func ExtractScript(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		// drop the language tag
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
