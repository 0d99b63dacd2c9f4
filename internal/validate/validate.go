// Package validate checks CDP scripts against the command registry before
// any browser work happens. It reports every problem it can find in one
// pass instead of stopping at the first.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/script"
)

// Kind classifies a validation error.
type Kind string

const (
	KindJSONSyntax       Kind = "json_syntax"
	KindMissingField     Kind = "missing_field"
	KindInvalidValue     Kind = "invalid_value"
	KindUnknownCommand   Kind = "unknown_command"
	KindInvalidParameter Kind = "invalid_parameter"
	KindMissingParameter Kind = "missing_parameter"
	KindInvalidStructure Kind = "invalid_structure"
	KindTypeMismatch     Kind = "type_mismatch"
)

// ErrInvalid is wrapped by Result.Err.
var ErrInvalid = errors.New("script validation failed")

// Location points at the offending part of a script.
type Location struct {
	CommandIndex *int   `json:"command_index,omitzero"`
	FieldPath    string `json:"field_path"`
	Line         int    `json:"line,omitzero"`
	Column       int    `json:"column,omitzero"`
}

// Error is a single validation finding.
type Error struct {
	Kind       Kind     `json:"error_type"`
	Message    string   `json:"message"`
	Location   Location `json:"location"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (e Error) Error() string { return e.Message }

// Result aggregates every finding for one script.
type Result struct {
	Valid    bool     `json:"is_valid"`
	Errors   []Error  `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Result) addError(e Error) {
	r.Errors = append(r.Errors, e)
	r.Valid = false
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Has reports whether the result holds an error of kind k.
func (r *Result) Has(k Kind) bool {
	for _, e := range r.Errors {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Err returns nil for a valid result, otherwise an error wrapping
// ErrInvalid that lists every finding.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Format renders the result for humans, one finding per line.
func (r *Result) Format() string {
	var b strings.Builder
	if r.Valid {
		b.WriteString("✓ script is valid")
	} else {
		fmt.Fprintf(&b, "✗ script is invalid: %s", plural(len(r.Errors), "error"))
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, " (%s)", plural(len(r.Warnings), "warning"))
	}
	b.WriteByte('\n')

	for _, e := range r.Errors {
		b.WriteString("  error")
		if where := e.Location.String(); where != "" {
			fmt.Fprintf(&b, " at %s", where)
		}
		fmt.Fprintf(&b, " [%s]: %s\n", e.Kind, e.Message)
		if e.Suggestion != "" {
			fmt.Fprintf(&b, "    hint: %s\n", e.Suggestion)
		}
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}
	return b.String()
}

func (l Location) String() string {
	switch {
	case l.Line > 0 && l.FieldPath != "":
		return fmt.Sprintf("%s (line %d, column %d)", l.FieldPath, l.Line, l.Column)
	case l.Line > 0:
		return fmt.Sprintf("line %d, column %d", l.Line, l.Column)
	default:
		return l.FieldPath
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// Validator checks scripts against a registry. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	reg       *registry.Registry
	supported string
}

// New returns a validator backed by reg.
func New(reg *registry.Registry) *Validator {
	return &Validator{
		reg:       reg,
		supported: "Supported commands: " + strings.Join(reg.Methods(), ", "),
	}
}

// ValidateJSON parses data and validates the resulting script.
func (v *Validator) ValidateJSON(data []byte) *Result {
	s, err := script.Parse(data)
	if err != nil {
		r := &Result{}
		r.addError(decodeError(err))
		return r
	}
	return v.ValidateScript(s)
}

func decodeError(err error) Error {
	var shapeErr *script.ShapeError
	if errors.As(err, &shapeErr) {
		return Error{
			Kind:    KindInvalidStructure,
			Message: fmt.Sprintf("Invalid script structure: %v", shapeErr.Err),
			Location: Location{
				FieldPath: shapeErr.FieldPath,
				Line:      shapeErr.Line,
				Column:    shapeErr.Column,
			},
			Suggestion: "Check that every field has the expected JSON type",
		}
	}
	e := Error{
		Kind:       KindJSONSyntax,
		Message:    fmt.Sprintf("JSON syntax error: %v", err),
		Suggestion: "Check for missing commas, brackets, or quotes",
	}
	var synErr *script.SyntaxError
	if errors.As(err, &synErr) {
		e.Message = fmt.Sprintf("JSON syntax error: %v", synErr.Err)
		e.Location.Line = synErr.Line
		e.Location.Column = synErr.Column
	}
	return e
}

// ValidateScript validates an already parsed script.
func (v *Validator) ValidateScript(s *script.Script) *Result {
	r := &Result{Valid: true}

	if s.Name == "" {
		r.addError(Error{
			Kind:       KindMissingField,
			Message:    "Script name is required and cannot be empty",
			Location:   Location{FieldPath: "name"},
			Suggestion: "Add a descriptive name for your script",
		})
	} else if !identifierSafe(s.Name) {
		r.warn("Script name should only contain alphanumeric characters, hyphens, and underscores")
	}

	if s.Description == "" {
		r.warn("Script description is empty")
	}

	if len(s.Commands) == 0 {
		r.addError(Error{
			Kind:       KindMissingField,
			Message:    "Script must contain at least one command",
			Location:   Location{FieldPath: "cdp_commands"},
			Suggestion: "Add at least one CDP command to the script",
		})
		return r
	}

	for i, cmd := range s.Commands {
		v.validateCommand(r, i, cmd)
	}
	return r
}

func identifierSafe(name string) bool {
	for _, c := range name {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

func (v *Validator) validateCommand(r *Result, index int, cmd script.Command) {
	prefix := fmt.Sprintf("cdp_commands[%d]", index)
	at := func(field string) Location {
		i := index
		return Location{CommandIndex: &i, FieldPath: prefix + field}
	}

	if cmd.Method == "" {
		r.addError(Error{
			Kind:       KindMissingField,
			Message:    fmt.Sprintf("Command %d has empty method name", index+1),
			Location:   at(".method"),
			Suggestion: "Specify a CDP method in Domain.method format",
		})
		return
	}

	if !cmd.HasSeparator() {
		r.addError(Error{
			Kind:       KindInvalidValue,
			Message:    fmt.Sprintf("Command %d has invalid method '%s' (must be Domain.method format)", index+1, cmd.Method),
			Location:   at(".method"),
			Suggestion: "Use format like 'Page.navigate' or 'Runtime.evaluate'",
		})
		return
	}

	entry, ok := v.reg.Lookup(cmd.Method)
	if !ok {
		r.addError(Error{
			Kind:       KindUnknownCommand,
			Message:    fmt.Sprintf("Unknown CDP command: %s", cmd.Method),
			Location:   at(".method"),
			Suggestion: v.supported,
		})
		return
	}

	v.validateParams(r, index, cmd, entry.Schema, at)
	validateSaveAs(r, index, cmd, entry, at)
}

func (v *Validator) validateParams(r *Result, index int, cmd script.Command, schema registry.Schema, at func(string) Location) {
	var params map[string]jsontext.Value
	isObject := cmd.Params.Kind() == '{' && json.Unmarshal(cmd.Params, &params, jsontext.AllowDuplicateNames(true)) == nil
	if !isObject {
		if len(schema.Required) == 0 {
			return
		}
		r.addError(Error{
			Kind:       KindInvalidStructure,
			Message:    fmt.Sprintf("Command %d params must be an object", index+1),
			Location:   at(".params"),
			Suggestion: "Params should be a JSON object with key-value pairs",
		})
		return
	}

	for _, name := range schema.Required {
		if _, ok := params[name]; !ok {
			r.addError(Error{
				Kind:       KindMissingParameter,
				Message:    fmt.Sprintf("Command %d (%s) missing required parameter '%s'", index+1, cmd.Method, name),
				Location:   at(".params." + name),
				Suggestion: fmt.Sprintf("Add '%s' parameter", name),
			})
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "" {
			r.addError(Error{
				Kind:       KindInvalidParameter,
				Message:    fmt.Sprintf("Command %d (%s) has a parameter with an empty name", index+1, cmd.Method),
				Location:   at(".params"),
				Suggestion: "Remove the empty key from params",
			})
			continue
		}

		expected, declared := schema.TypeFor(name)
		if !declared {
			r.warn("Command %d (%s) has unknown parameter '%s' (will be passed through)", index+1, cmd.Method, name)
			continue
		}
		actual, ok := registry.TypeOf(params[name])
		if !ok {
			// null stands in for any type
			continue
		}
		if actual != expected {
			r.addError(Error{
				Kind: KindTypeMismatch,
				Message: fmt.Sprintf("Command %d (%s) parameter '%s' has wrong type (expected %s, got %s)",
					index+1, cmd.Method, name, expected, actual),
				Location:   at(".params." + name),
				Suggestion: fmt.Sprintf("Change '%s' to be a %s", name, expected),
			})
		}
	}
}

func validateSaveAs(r *Result, index int, cmd script.Command, entry *registry.Entry, at func(string) Location) {
	if cmd.SaveAs == "" {
		return
	}
	if !entry.SavesOutput {
		r.warn("Command %d (%s) has save_as but produces no output; save_as is ignored", index+1, cmd.Method)
		return
	}
	if strings.HasSuffix(cmd.SaveAs, "/") {
		r.addError(Error{
			Kind:       KindInvalidValue,
			Message:    fmt.Sprintf("Command %d (%s) save_as '%s' names a directory", index+1, cmd.Method, cmd.SaveAs),
			Location:   at(".save_as"),
			Suggestion: "Give save_as a file name, e.g. 'screenshot.png'",
		})
	}
}
