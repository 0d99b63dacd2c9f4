// internal/script/script.go
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Script is a CDP automation script: metadata plus an ordered list of
// Chrome DevTools Protocol commands.
type Script struct {
	// Name is a short identifier, typically lowercase-hyphenated
	Name string `json:"name"`

	// Description says what the automation does
	Description string `json:"description"`

	// Created is the creation timestamp (ISO 8601), if known
	Created string `json:"created,omitempty"`

	// Author of the script ("Claude" for generated scripts)
	Author string `json:"author,omitempty"`

	// Tags for categorization
	Tags []string `json:"tags,omitzero"`

	// Commands run in order
	Commands []Command `json:"cdp_commands"`
}

// Command is one CDP method invocation.
type Command struct {
	// Method is the CDP method identifier, e.g. "Page.navigate"
	Method string `json:"method"`

	// Params holds the raw JSON parameters. Nil when the source had none.
	Params jsontext.Value `json:"params,omitzero"`

	// SaveAs is an optional output file for commands that produce a payload
	SaveAs string `json:"save_as,omitempty"`

	// Description of this step
	Description string `json:"description,omitempty"`
}

// Domain returns the part of the method before the first dot.
func (c Command) Domain() string {
	domain, _, _ := strings.Cut(c.Method, ".")
	return domain
}

// Action returns the part of the method after the first dot.
func (c Command) Action() string {
	_, action, _ := strings.Cut(c.Method, ".")
	return action
}

// HasSeparator reports whether the method is in Domain.action form.
func (c Command) HasSeparator() bool {
	return strings.Contains(c.Method, ".")
}

// Parse decodes a script from its JSON form. Malformed JSON yields a
// *SyntaxError; well-formed JSON of the wrong shape yields a *ShapeError.
// Repeated object member names are accepted and the last one wins.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s, jsontext.AllowDuplicateNames(true)); err != nil {
		return nil, classifyDecodeError(data, err)
	}
	for i := range s.Commands {
		p := s.Commands[i].Params
		if len(p) == 0 || p.IsValid() {
			continue
		}
		collapsed, err := collapseDuplicateNames(p)
		if err != nil {
			return nil, classifyDecodeError(data, err)
		}
		s.Commands[i].Params = collapsed
	}
	return &s, nil
}

// collapseDuplicateNames rewrites v so every object keeps only the last
// value of a repeated member name.
func collapseDuplicateNames(v jsontext.Value) (jsontext.Value, error) {
	var x any
	if err := json.Unmarshal(v, &x, jsontext.AllowDuplicateNames(true)); err != nil {
		return nil, err
	}
	return json.Marshal(x, json.Deterministic(true))
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Marshal encodes the script compactly. Optional fields that are unset
// are omitted rather than written as null.
func (s *Script) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// MarshalIndent encodes the script with two-space indentation.
func (s *Script) MarshalIndent() ([]byte, error) {
	return json.Marshal(s, jsontext.WithIndent("  "))
}

// Save writes the script to path as indented JSON.
func (s *Script) Save(path string) error {
	data, err := s.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to encode script: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	return nil
}

// ValidateStructure runs the cheap structural checks that must hold
// before a script is executed. It knows nothing about individual CDP
// methods; see package validate for the full check.
func (s *Script) ValidateStructure() error {
	if s.Name == "" {
		return &StructuralError{Index: -1, Field: "name", Message: "script name cannot be empty"}
	}
	if len(s.Commands) == 0 {
		return &StructuralError{Index: -1, Field: "cdp_commands", Message: "script must contain at least one command"}
	}
	for i, cmd := range s.Commands {
		if cmd.Method == "" {
			return &StructuralError{
				Index:   i,
				Field:   "method",
				Message: fmt.Sprintf("command %d has empty method", i+1),
			}
		}
		if !cmd.HasSeparator() {
			return &StructuralError{
				Index:   i,
				Field:   "method",
				Message: fmt.Sprintf("command %d has invalid method '%s' (must be Domain.method format)", i+1, cmd.Method),
			}
		}
	}
	return nil
}
