package validate

import (
	"strings"
	"sync"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/script"
)

func newValidator() *Validator {
	return New(registry.Default())
}

// scriptWith wraps commands in a script with a valid name and description.
func scriptWith(commands string) []byte {
	return []byte(`{"name": "test-script", "description": "Test script", "cdp_commands": [` + commands + `]}`)
}

func kinds(r *Result) []Kind {
	out := make([]Kind, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Kind
	}
	return out
}

func TestValidScript(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`
		{"method": "Page.navigate", "params": {"url": "https://example.com"}},
		{"method": "Runtime.evaluate", "params": {"expression": "document.title", "returnByValue": true}, "save_as": "title.json"}
	`))
	assert.True(t, r.Valid)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
	assert.NoError(t, r.Err())
}

func TestJSONSyntaxError(t *testing.T) {
	r := newValidator().ValidateJSON([]byte("{\"name\": \"test\",\n \"description\": \"test\""))
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)

	e := r.Errors[0]
	assert.Equal(t, KindJSONSyntax, e.Kind)
	assert.Greater(t, e.Location.Line, 0)
	assert.Greater(t, e.Location.Column, 0)
	assert.Nil(t, e.Location.CommandIndex)
	assert.NotEmpty(t, e.Suggestion)
}

func TestWrongShapeIsOneStructureError(t *testing.T) {
	r := newValidator().ValidateJSON([]byte(`{"name": "test", "description": "d", "cdp_commands": "navigate"}`))
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, KindInvalidStructure, r.Errors[0].Kind)
}

func TestEmptyCommandList(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":  `{"name": "test", "description": "d", "cdp_commands": []}`,
		"absent": `{"name": "test", "description": "d"}`,
	} {
		t.Run(name, func(t *testing.T) {
			r := newValidator().ValidateJSON([]byte(doc))
			require.False(t, r.Valid)
			require.Len(t, r.Errors, 1)
			assert.Equal(t, KindMissingField, r.Errors[0].Kind)
			assert.Equal(t, "cdp_commands", r.Errors[0].Location.FieldPath)
		})
	}
}

func TestEmptyName(t *testing.T) {
	r := newValidator().ValidateJSON([]byte(`{"name": "", "description": "d", "cdp_commands": [{"method": "Page.reload"}]}`))
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, KindMissingField, r.Errors[0].Kind)
	assert.Equal(t, "name", r.Errors[0].Location.FieldPath)
}

func TestNameAndDescriptionWarnings(t *testing.T) {
	r := newValidator().ValidateJSON([]byte(`{"name": "my script!", "description": "", "cdp_commands": [{"method": "Page.reload"}]}`))
	assert.True(t, r.Valid)
	require.Len(t, r.Warnings, 2)
	assert.Contains(t, r.Warnings[0], "alphanumeric")
	assert.Contains(t, r.Warnings[1], "description is empty")
}

func TestUnknownCommand(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Foo.bar", "params": {}}`))
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)

	e := r.Errors[0]
	assert.Equal(t, KindUnknownCommand, e.Kind)
	require.NotNil(t, e.Location.CommandIndex)
	assert.Equal(t, 0, *e.Location.CommandIndex)
	assert.Equal(t, "cdp_commands[0].method", e.Location.FieldPath)
	for _, m := range registry.Default().Methods() {
		assert.Contains(t, e.Suggestion, m)
	}
}

func TestMethodFormat(t *testing.T) {
	tests := []struct {
		name   string
		method string
		want   Kind
	}{
		{"empty", "", KindMissingField},
		{"no separator", "InvalidFormat", KindInvalidValue},
		{"unknown", "Page.fly", KindUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newValidator().ValidateJSON(scriptWith(`{"method": "` + tt.method + `", "params": {}}`))
			require.Len(t, r.Errors, 1)
			assert.Equal(t, tt.want, r.Errors[0].Kind)
			assert.Equal(t, "cdp_commands[0].method", r.Errors[0].Location.FieldPath)
		})
	}
}

func TestEachMissingParameterReported(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Input.dispatchMouseEvent", "params": {}}`))
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 3)

	for i, name := range []string{"type", "x", "y"} {
		e := r.Errors[i]
		assert.Equal(t, KindMissingParameter, e.Kind)
		assert.Contains(t, e.Message, "'"+name+"'")
		assert.Equal(t, "cdp_commands[0].params."+name, e.Location.FieldPath)
	}
}

func TestTypeMismatch(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Page.navigate", "params": {"url": 123}}`))
	require.Len(t, r.Errors, 1)

	e := r.Errors[0]
	assert.Equal(t, KindTypeMismatch, e.Kind)
	assert.Contains(t, e.Message, "expected String, got Number")
	assert.Equal(t, "cdp_commands[0].params.url", e.Location.FieldPath)
}

func TestTypeMismatchEveryType(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{
		"method": "Emulation.setDeviceMetricsOverride",
		"params": {"width": "375", "height": [667], "deviceScaleFactor": {}, "mobile": 1, "screenOrientation": true}
	}`))
	assert.Equal(t, []Kind{KindTypeMismatch, KindTypeMismatch, KindTypeMismatch, KindTypeMismatch, KindTypeMismatch}, kinds(r))
}

func TestNullNeverMismatches(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`
		{"method": "Page.navigate", "params": {"url": null, "referrer": null}},
		{"method": "Emulation.setGeolocationOverride", "params": {"latitude": null, "longitude": null}}
	`))
	assert.True(t, r.Valid, r.Format())
}

func TestParamsMustBeObject(t *testing.T) {
	tests := []struct {
		name    string
		command string
		valid   bool
	}{
		{"string params with required", `{"method": "Page.navigate", "params": "https://example.com"}`, false},
		{"array params with required", `{"method": "Input.insertText", "params": ["hi"]}`, false},
		{"absent params with required", `{"method": "Page.navigate"}`, false},
		{"null params with required", `{"method": "Page.navigate", "params": null}`, false},
		{"absent params without required", `{"method": "Page.reload"}`, true},
		{"string params without required", `{"method": "Page.captureScreenshot", "params": "png"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newValidator().ValidateJSON(scriptWith(tt.command))
			assert.Equal(t, tt.valid, r.Valid)
			if !tt.valid {
				require.Len(t, r.Errors, 1)
				assert.Equal(t, KindInvalidStructure, r.Errors[0].Kind)
				assert.Equal(t, "cdp_commands[0].params", r.Errors[0].Location.FieldPath)
			}
		})
	}
}

func TestDuplicateParameterNamesLastWins(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Page.navigate", "params": {"url": "https://a.example", "url": "https://b.example"}}`))
	assert.True(t, r.Valid, "errors: %v", r.Errors)

	r = newValidator().ValidateJSON(scriptWith(`{"method": "Page.navigate", "params": {"url": 1, "url": "https://b.example"}}`))
	assert.True(t, r.Valid, "errors: %v", r.Errors)

	r = newValidator().ValidateJSON(scriptWith(`{"method": "Page.navigate", "params": {"url": "https://a.example", "url": 1}}`))
	require.False(t, r.Valid)
	assert.Equal(t, []Kind{KindTypeMismatch}, kinds(r))
}

func TestUnknownParameterIsWarning(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Page.navigate", "params": {"url": "https://example.com", "waitUntil": "load"}}`))
	assert.True(t, r.Valid)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "'waitUntil'")
}

func TestEmptyParameterName(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Page.navigate", "params": {"url": "https://example.com", "": 1}}`))
	require.Len(t, r.Errors, 1)
	assert.Equal(t, KindInvalidParameter, r.Errors[0].Kind)
}

func TestSaveAs(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`
		{"method": "Input.insertText", "params": {"text": "hi"}, "save_as": "text.txt"},
		{"method": "Page.captureScreenshot", "save_as": "shots/"}
	`))
	require.Len(t, r.Errors, 1)
	assert.Equal(t, KindInvalidValue, r.Errors[0].Kind)
	assert.Equal(t, "cdp_commands[1].save_as", r.Errors[0].Location.FieldPath)

	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "save_as is ignored")
}

func TestNoShortCircuitAcrossCommands(t *testing.T) {
	r := newValidator().ValidateJSON([]byte(`{
		"name": "",
		"description": "",
		"cdp_commands": [
			{"method": "Invalid", "params": {}},
			{"method": "Page.navigate", "params": {}},
			{"method": "Unknown.command", "params": {}},
			{"method": "Page.navigate", "params": {"url": 1}}
		]
	}`))
	require.False(t, r.Valid)
	assert.Equal(t, []Kind{
		KindMissingField,
		KindInvalidValue,
		KindMissingParameter,
		KindUnknownCommand,
		KindTypeMismatch,
	}, kinds(r))

	var indexes []int
	for _, e := range r.Errors[1:] {
		require.NotNil(t, e.Location.CommandIndex)
		indexes = append(indexes, *e.Location.CommandIndex)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, indexes)
}

func TestValidateScriptDirect(t *testing.T) {
	s := &script.Script{
		Name:        "direct",
		Description: "built in code",
		Commands: []script.Command{
			{Method: "Page.navigate", Params: []byte(`{"url": "https://example.com"}`)},
			{Method: "Network.setCookie", Params: []byte(`{"name": "a"}`)},
		},
	}
	r := newValidator().ValidateScript(s)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, KindMissingParameter, r.Errors[0].Kind)
	assert.Contains(t, r.Errors[0].Message, "'value'")
}

func TestErrAndFormat(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`
		{"method": "Foo.bar"},
		{"method": "Page.navigate", "params": {"url": "https://example.com", "extra": true}}
	`))
	err := r.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "Unknown CDP command: Foo.bar")

	out := r.Format()
	assert.True(t, strings.HasPrefix(out, "✗ script is invalid: 1 error (1 warning)"))
	assert.Contains(t, out, "at cdp_commands[0].method [unknown_command]")
	assert.Contains(t, out, "hint: Supported commands:")
	assert.Contains(t, out, "warning: Command 2 (Page.navigate) has unknown parameter 'extra'")

	valid := newValidator().ValidateJSON(scriptWith(`{"method": "Page.reload"}`))
	assert.Equal(t, "✓ script is valid\n", valid.Format())
}

func TestResultJSON(t *testing.T) {
	r := newValidator().ValidateJSON(scriptWith(`{"method": "Foo.bar"}`))
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["is_valid"])
	assert.Equal(t, []any{}, decoded["warnings"])

	errs := decoded["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "unknown_command", first["error_type"])

	loc := first["location"].(map[string]any)
	assert.Equal(t, float64(0), loc["command_index"])
	assert.Equal(t, "cdp_commands[0].method", loc["field_path"])
	assert.NotContains(t, loc, "line")
}

func TestConcurrentUse(t *testing.T) {
	v := newValidator()
	doc := scriptWith(`{"method": "Page.navigate", "params": {"url": 1}}`)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := v.ValidateJSON(doc)
			assert.Equal(t, []Kind{KindTypeMismatch}, kinds(r))
		}()
	}
	wg.Wait()
}
