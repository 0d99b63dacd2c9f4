package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

const goodScript = `{
  "name": "screenshot-example",
  "description": "Take a screenshot of example.com",
  "tags": ["screenshot"],
  "cdp_commands": [
    {"method": "Page.navigate", "params": {"url": "https://example.com"}},
    {"method": "Page.captureScreenshot", "params": {"format": "png"}, "save_as": "example.png"}
  ]
}`

const badScript = `{
  "name": "broken",
  "description": "navigate without url",
  "cdp_commands": [{"method": "Page.navigate", "params": {}}]
}`

// cliOutput wraps text the way the CLI does with --output-format json.
func cliOutput(t *testing.T, text string) []byte {
	t.Helper()
	out, err := json.Marshal(map[string]any{"type": "result", "is_error": false, "result": text})
	require.NoError(t, err)
	return out
}

type fakeRunner struct {
	outputs [][]byte
	errs    []error
	prompts []string
	args    [][]string
	names   []string
}

func (f *fakeRunner) run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	i := len(f.prompts)
	f.names = append(f.names, name)
	f.args = append(f.args, args)
	f.prompts = append(f.prompts, string(stdin))
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.outputs) {
		return f.outputs[i], nil
	}
	return nil, errors.New("no more outputs")
}

var fixedNow = func() time.Time { return time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC) }

func newGenerator(r *fakeRunner, opts Options) *Generator {
	opts.Runner = r.run
	opts.Now = fixedNow
	return New(registry.Default(), opts)
}

func TestGenerate(t *testing.T) {
	r := &fakeRunner{outputs: [][]byte{cliOutput(t, "```json\n"+goodScript+"\n```")}}
	g := newGenerator(r, Options{Model: "sonnet"})

	s, res, err := g.Generate(context.Background(), "screenshot example.com")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Valid)

	assert.Equal(t, "screenshot-example", s.Name)
	assert.Len(t, s.Commands, 2)
	assert.Equal(t, "Claude", s.Author)
	assert.Equal(t, "2025-10-09T12:00:00Z", s.Created)

	assert.Equal(t, []string{"claude"}, r.names)
	assert.Equal(t, []string{"--print", "--output-format", "json", "--model", "sonnet"}, r.args[0])
	assert.Contains(t, r.prompts[0], "USER REQUEST: screenshot example.com")
}

func TestGenerateInvalidScript(t *testing.T) {
	r := &fakeRunner{outputs: [][]byte{cliOutput(t, badScript)}}
	g := newGenerator(r, Options{})

	s, res, err := g.Generate(context.Background(), "broken")
	assert.Nil(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrInvalid)
	require.NotNil(t, res)
	assert.True(t, res.Has(validate.KindMissingParameter))
}

func TestGenerateRunnerError(t *testing.T) {
	boom := errors.New("exec: \"claude\": executable file not found in $PATH")
	r := &fakeRunner{errs: []error{boom}}
	_, _, err := newGenerator(r, Options{}).Generate(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
}

func TestGenerateEmptyRequest(t *testing.T) {
	r := &fakeRunner{}
	_, _, err := newGenerator(r, Options{}).Generate(context.Background(), "   ")
	require.Error(t, err)
	assert.Empty(t, r.prompts)
}

func TestGenerateWithRetryFeedsBackFindings(t *testing.T) {
	r := &fakeRunner{outputs: [][]byte{
		cliOutput(t, badScript),
		cliOutput(t, goodScript),
	}}
	g := newGenerator(r, Options{MaxAttempts: 3})

	s, err := g.GenerateWithRetry(context.Background(), "screenshot example.com")
	require.NoError(t, err)
	assert.Equal(t, "screenshot-example", s.Name)

	require.Len(t, r.prompts, 2)
	assert.NotContains(t, r.prompts[0], "PREVIOUS SCRIPT WAS REJECTED")
	assert.Contains(t, r.prompts[1], "PREVIOUS SCRIPT WAS REJECTED")
	assert.Contains(t, r.prompts[1], "missing required parameter 'url'")
}

func TestGenerateWithRetryGivesUp(t *testing.T) {
	r := &fakeRunner{outputs: [][]byte{
		cliOutput(t, "not json at all"),
		cliOutput(t, badScript),
	}}
	g := newGenerator(r, Options{MaxAttempts: 2})

	_, err := g.GenerateWithRetry(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.ErrorIs(t, err, validate.ErrInvalid)
	assert.Len(t, r.prompts, 2)
}

func TestGenerateWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{outputs: [][]byte{cliOutput(t, badScript), cliOutput(t, goodScript)}}
	g := newGenerator(r, Options{MaxAttempts: 2, RetryDelay: time.Hour})

	go cancel()
	_, err := g.GenerateWithRetry(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, r.prompts, 1)
}

func TestPromptListsRegistry(t *testing.T) {
	g := newGenerator(&fakeRunner{}, Options{})
	p := g.Prompt("log in", nil)

	for _, m := range registry.Default().Methods() {
		assert.Contains(t, p, m)
	}
	assert.Contains(t, p, `"save_as": "output-file"`)
	assert.Contains(t, p, `"created": "2025-10-09T12:00:00Z"`)
	assert.True(t, strings.HasSuffix(p, "no markdown code blocks.\n"))
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{"result field", `{"type":"result","result":"{\"a\":1}"}`, `{"a":1}`, false},
		{"text field", `{"text":"hello"}`, "hello", false},
		{"plain text", "  plain answer\n", "plain answer", false},
		{"broken json object", `{"result": `, "", true},
		{"raw fenced text", "```json\n{}\n```", "```json\n{}\n```", false},
		{"bare script", `{"name":"x","cdp_commands":[]}`, `{"name":"x","cdp_commands":[]}`, false},
		{"error result", `{"type":"result","is_error":true,"result":"rate limited"}`, "", true},
		{"empty result", `{"type":"result","result":""}`, "", true},
		{"empty output", "  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResponseText([]byte(tt.out))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractScript(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"name\": \"test\"}\n```", `{"name": "test"}`},
		{"```\n{\"name\": \"test\"}\n```", `{"name": "test"}`},
		{"```{\"name\": \"test\"}```", `{"name": "test"}`},
		{`{"name": "test"}`, `{"name": "test"}`},
		{"\n\n  {\"name\": \"test\"}  \n", `{"name": "test"}`},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractScript(tt.in), tt.in)
	}
}

func TestDefaults(t *testing.T) {
	g := New(registry.Default(), Options{})
	assert.Equal(t, DefaultCommand, g.opts.Command)
	assert.Equal(t, DefaultMaxAttempts, g.opts.MaxAttempts)
	assert.Equal(t, []string{"--print", "--output-format", "json"}, g.Args())
}
