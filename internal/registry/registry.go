// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

var (
	ErrDuplicate = errors.New("method already registered")
	ErrNoHandler = errors.New("entry has no handler")
)

// Call is a CDP command whose parameters have been decoded into the
// protocol's typed parameter struct. It is only produced by Entry.Bind.
type Call interface {
	Method() string
	Do(ctx context.Context, session cdp.Executor) (*Outcome, error)
}

// Outcome is what a Call returns: the typed protocol response and, for
// commands that produce one, the payload that save_as writes to disk.
type Outcome struct {
	Response any
	payload  func() ([]byte, error)
}

// HasPayload reports whether the command produced savable output.
func (o *Outcome) HasPayload() bool { return o != nil && o.payload != nil }

// Payload decodes the savable output. Screenshots are base64-decoded,
// evaluation results and cookie lists are rendered as indented JSON.
func (o *Outcome) Payload() ([]byte, error) {
	if !o.HasPayload() {
		return nil, nil
	}
	return o.payload()
}

// Entry is one supported CDP method: its parameter schema and the
// handler that runs it. Keeping both in one value means a method is
// either fully supported (validates and executes) or unknown.
type Entry struct {
	Method      string
	Summary     string
	Schema      Schema
	SavesOutput bool

	// Example is a params object used in documentation and prompts.
	Example string

	bind func(params jsontext.Value) (Call, error)
}

// Bind decodes raw params into the method's typed parameter struct.
// Null or absent params are treated as an empty object.
func (e *Entry) Bind(params jsontext.Value) (Call, error) {
	if e.bind == nil {
		return nil, fmt.Errorf("%s: %w", e.Method, ErrNoHandler)
	}
	return e.bind(params)
}

// Registry is the catalogue of supported methods. Build it once at
// startup; it must not be modified after it is shared.
type Registry struct {
	entries map[string]*Entry
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds an entry. Every declared parameter must carry a type tag.
func (r *Registry) Register(e Entry) error {
	if e.Method == "" {
		return fmt.Errorf("entry has empty method")
	}
	if _, exists := r.entries[e.Method]; exists {
		return fmt.Errorf("%s: %w", e.Method, ErrDuplicate)
	}
	if e.bind == nil {
		return fmt.Errorf("%s: %w", e.Method, ErrNoHandler)
	}
	for _, name := range append(append([]string{}, e.Schema.Required...), e.Schema.Optional...) {
		if _, ok := e.Schema.Types[name]; !ok {
			return fmt.Errorf("%s: parameter %q has no type", e.Method, name)
		}
	}
	entry := e
	r.entries[e.Method] = &entry
	r.order = append(r.order, e.Method)
	return nil
}

func (r *Registry) mustRegister(entries ...Entry) {
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the entry for method.
func (r *Registry) Lookup(method string) (*Entry, bool) {
	e, ok := r.entries[method]
	return e, ok
}

// Methods returns the known methods in registration order.
func (r *Registry) Methods() []string {
	return append([]string(nil), r.order...)
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, m := range r.order {
		out = append(out, r.entries[m])
	}
	return out
}

// Len returns the number of registered methods.
func (r *Registry) Len() int { return len(r.order) }

// call is the typed form of a command: P is the cdproto params struct
// and R the cdproto returns struct for one method.
type call[P, R any] struct {
	method string
	params P
	output func(*R) ([]byte, error)
}

func (c *call[P, R]) Method() string { return c.method }

func (c *call[P, R]) Do(ctx context.Context, session cdp.Executor) (*Outcome, error) {
	res := new(R)
	if err := session.Execute(ctx, c.method, &c.params, res); err != nil {
		return nil, err
	}
	out := &Outcome{Response: res}
	if c.output != nil {
		out.payload = func() ([]byte, error) { return c.output(res) }
	}
	return out, nil
}

// command builds an Entry whose handler decodes params into P and
// executes method, decoding the response into R.
func command[P, R any](method, summary string, s Schema, example string, output func(*R) ([]byte, error)) Entry {
	return Entry{
		Method:      method,
		Summary:     summary,
		Schema:      s,
		Example:     example,
		SavesOutput: output != nil,
		bind: func(raw jsontext.Value) (Call, error) {
			c := &call[P, R]{method: method, output: output}
			if err := decodeParams(raw, &c.params); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

func decodeParams(raw jsontext.Value, v any) error {
	if len(raw) == 0 || raw.Kind() == 'n' {
		return nil
	}
	return json.Unmarshal(raw, v, jsontext.AllowDuplicateNames(true))
}

// noResult stands in for methods that return nothing.
type noResult struct{}
