package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// SyntaxError reports malformed JSON.
type SyntaxError struct {
	Offset int64
	Line   int
	Column int
	Err    error
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("JSON syntax error at line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("JSON syntax error: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// ShapeError reports well-formed JSON that does not fit the script
// structure, e.g. a string where the command list belongs.
type ShapeError struct {
	// FieldPath locates the offending value, e.g. "cdp_commands[0].method"
	FieldPath string
	Line      int
	Column    int
	Err       error
}

func (e *ShapeError) Error() string {
	if e.FieldPath != "" {
		return fmt.Sprintf("invalid script structure at %s: %v", e.FieldPath, e.Err)
	}
	return fmt.Sprintf("invalid script structure: %v", e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// StructuralError is returned by ValidateStructure.
type StructuralError struct {
	// Index is the 0-based command index, or -1 for script-level fields
	Index   int
	Field   string
	Message string
}

func (e *StructuralError) Error() string { return e.Message }

func classifyDecodeError(data []byte, err error) error {
	var synErr *jsontext.SyntacticError
	if errors.As(err, &synErr) {
		line, col := Position(data, synErr.ByteOffset)
		return &SyntaxError{Offset: synErr.ByteOffset, Line: line, Column: col, Err: err}
	}
	var semErr *json.SemanticError
	if errors.As(err, &semErr) {
		line, col := Position(data, semErr.ByteOffset)
		return &ShapeError{
			FieldPath: FieldPath(string(semErr.JSONPointer)),
			Line:      line,
			Column:    col,
			Err:       err,
		}
	}
	return &SyntaxError{Err: err}
}

// Position converts a byte offset into a 1-based line and column.
func Position(data []byte, offset int64) (line, column int) {
	if offset < 0 {
		return 0, 0
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, column = 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			column = 1
			continue
		}
		column++
	}
	return line, column
}

// FieldPath turns a JSON pointer ("/cdp_commands/0/params") into the
// dotted form used in diagnostics ("cdp_commands[0].params").
func FieldPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return ""
	}
	var b strings.Builder
	for _, tok := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(tok); err == nil && b.Len() > 0 {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}
