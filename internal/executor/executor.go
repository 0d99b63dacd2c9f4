// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/go-json-experiment/json"

	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/report"
	"github.com/cmux-cli/cdpscript/internal/script"
)

// ErrNoSession is returned by Run when the executor has no session.
var ErrNoSession = errors.New("no CDP session")

// Session executes one CDP command and decodes its response.
type Session = cdp.Executor

// connector is implemented by sessions that attach lazily.
type connector interface {
	Connect(ctx context.Context) error
}

// Policy decides what happens to the remaining commands after a failure.
type Policy int

const (
	// StopOnFailure records the failed step and omits the rest.
	StopOnFailure Policy = iota
	// SkipOnFailure records the failed step and marks the rest skipped.
	SkipOnFailure
	// ContinueOnFailure keeps executing after a failure.
	ContinueOnFailure
)

func (p Policy) String() string {
	switch p {
	case StopOnFailure:
		return "stop"
	case SkipOnFailure:
		return "skip"
	case ContinueOnFailure:
		return "continue"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "stop", "skip" or "continue". Empty means stop.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop":
		return StopOnFailure, nil
	case "skip":
		return SkipOnFailure, nil
	case "continue":
		return ContinueOnFailure, nil
	default:
		return StopOnFailure, fmt.Errorf("unknown failure policy %q (expected stop, skip or continue)", s)
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy sets the failure policy.
func WithPolicy(p Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithObserver registers a callback invoked after every recorded step,
// including skipped ones.
func WithObserver(fn func(report.Result)) Option {
	return func(e *Executor) { e.observer = fn }
}

// WithCommandTimeout bounds each command. Zero means no per-command limit.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOutputDir resolves relative save_as paths against dir.
func WithOutputDir(dir string) Option {
	return func(e *Executor) { e.outputDir = dir }
}

// Executor runs scripts against a session, one command at a time.
// A session must not be shared by two concurrent runs.
type Executor struct {
	reg       *registry.Registry
	session   Session
	policy    Policy
	observer  func(report.Result)
	timeout   time.Duration
	logger    *log.Logger
	outputDir string
}

// New creates an executor.
func New(reg *registry.Registry, session Session, opts ...Option) *Executor {
	e := &Executor{
		reg:     reg,
		session: session,
		logger:  log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the configured failure policy.
func (e *Executor) Policy() Policy { return e.policy }

// Run executes s and returns its report. Failed commands are recorded in
// the report; an error is returned only when the run cannot start or the
// context ends before it completes (in which case the partial report is
// returned alongside it).
func (e *Executor) Run(ctx context.Context, s *script.Script) (*report.Report, error) {
	if err := s.ValidateStructure(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	if e.session == nil {
		return nil, ErrNoSession
	}
	if c, ok := e.session.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to browser: %w", err)
		}
	}

	rep := report.New(s.Name, len(s.Commands))
	e.logger.Printf("[executor] running %q: %d commands, policy=%s", s.Name, len(s.Commands), e.policy)

	for i, cmd := range s.Commands {
		if err := ctx.Err(); err != nil {
			e.logger.Printf("[executor] run %q interrupted before step %d: %v", s.Name, i+1, err)
			return rep, err
		}

		res := e.step(ctx, i+1, cmd)
		e.record(rep, res)
		if err := ctx.Err(); err != nil {
			e.logger.Printf("[executor] run %q interrupted during step %d: %v", s.Name, i+1, err)
			return rep, err
		}
		if res.Status != report.StatusFailed {
			continue
		}

		if e.policy == StopOnFailure {
			break
		}
		if e.policy == SkipOnFailure {
			for j := i + 1; j < len(s.Commands); j++ {
				e.record(rep, report.Result{
					Step:   j + 1,
					Method: s.Commands[j].Method,
					Status: report.StatusSkipped,
				})
			}
			break
		}
	}

	e.logger.Printf("[executor] %s", rep.Summary())
	return rep, nil
}

func (e *Executor) record(rep *report.Report, res report.Result) {
	rep.Add(res)
	if e.observer != nil {
		e.observer(res)
	}
}

func (e *Executor) step(ctx context.Context, step int, cmd script.Command) report.Result {
	start := time.Now()
	res := report.Result{Step: step, Method: cmd.Method}

	fail := func(err error) report.Result {
		res.Status = report.StatusFailed
		res.Error = err.Error()
		res.Duration = time.Since(start)
		e.logger.Printf("[executor] step %d %s failed: %v", step, cmd.Method, err)
		return res
	}

	entry, ok := e.reg.Lookup(cmd.Method)
	if !ok {
		return fail(fmt.Errorf("unsupported CDP method: %s", cmd.Method))
	}
	call, err := entry.Bind(cmd.Params)
	if err != nil {
		return fail(fmt.Errorf("failed to parse %s parameters: %w", cmd.Method, err))
	}

	cmdCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := call.Do(cmdCtx, e.session)
	if err != nil {
		return fail(fmt.Errorf("%s failed: %w", cmd.Method, err))
	}
	if raw, err := json.Marshal(out.Response); err == nil {
		res.Response = raw
	} else {
		e.logger.Printf("[executor] step %d %s: failed to encode response: %v", step, cmd.Method, err)
	}

	if cmd.SaveAs != "" && out.HasPayload() {
		path, err := e.save(cmd, out)
		if err != nil {
			return fail(err)
		}
		res.SavedFile = path
	}

	res.Status = report.StatusSuccess
	res.Duration = time.Since(start)
	e.logger.Printf("[executor] step %d %s ok (%s)", step, cmd.Method, res.Duration.Round(time.Millisecond))
	return res
}

func (e *Executor) save(cmd script.Command, out *registry.Outcome) (string, error) {
	data, err := out.Payload()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s output: %w", cmd.Method, err)
	}

	path := cmd.SaveAs
	if e.outputDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(e.outputDir, path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to write %s output to %s: %w", cmd.Method, path, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s output to %s: %w", cmd.Method, path, err)
	}
	e.logger.Printf("[executor] saved %s output to %s (%d bytes)", cmd.Method, path, len(data))
	return path, nil
}
