package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux-cli/cdpscript/internal/cdptest"
	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/report"
	"github.com/cmux-cli/cdpscript/internal/script"
)

func cmd(method, params string) script.Command {
	c := script.Command{Method: method}
	if params != "" {
		c.Params = jsontext.Value(params)
	}
	return c
}

func newScript(commands ...script.Command) *script.Script {
	return &script.Script{Name: "test", Description: "test script", Commands: commands}
}

func TestRunNavigateAndEvaluate(t *testing.T) {
	session := cdptest.NewSession().
		Respond("Page.navigate", `{"frameId":"F1","loaderId":"L1"}`).
		Respond("Runtime.evaluate", `{"result":{"type":"string","value":"Example Domain"}}`)

	s := newScript(
		cmd("Page.navigate", `{"url":"https://example.com"}`),
		cmd("Runtime.evaluate", `{"expression":"document.title","returnByValue":true}`),
	)
	rep, err := New(registry.Default(), session).Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.TotalCommands)
	assert.Equal(t, 2, rep.Successful)
	assert.Equal(t, 0, rep.Failed)
	assert.True(t, rep.IsSuccess())
	assert.Equal(t, float64(100), rep.SuccessRate())
	require.Len(t, rep.Results, 2)

	assert.Equal(t, 1, rep.Results[0].Step)
	assert.Equal(t, report.StatusSuccess, rep.Results[0].Status)
	assert.Contains(t, string(rep.Results[0].Response), `"frameId":"F1"`)
	assert.Contains(t, string(rep.Results[1].Response), "Example Domain")
	assert.Equal(t, []string{"Page.navigate", "Runtime.evaluate"}, session.Methods())
}

func TestStopOnFailure(t *testing.T) {
	session := cdptest.NewSession()
	s := newScript(
		cmd("Page.navigate", `{"url":"https://example.com"}`),
		cmd("Invalid.thing", `{}`),
		cmd("Page.reload", ""),
	)
	rep, err := New(registry.Default(), session).Run(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, rep.Results, 2)
	assert.Equal(t, 1, rep.Successful)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.Skipped)
	assert.False(t, rep.IsSuccess())
	assert.Equal(t, "unsupported CDP method: Invalid.thing", rep.Results[1].Error)
	assert.Equal(t, "step 2 of 3 failed: unsupported CDP method: Invalid.thing", rep.FailureMessage())
	assert.Equal(t, []string{"Page.navigate"}, session.Methods())
}

// scriptFailingAt returns n commands where step k is unsupported.
func scriptFailingAt(n, k int) *script.Script {
	cmds := make([]script.Command, n)
	for i := range cmds {
		cmds[i] = cmd("Page.reload", "")
	}
	cmds[k-1] = cmd("Invalid.thing", "")
	return newScript(cmds...)
}

func TestPolicyLaws(t *testing.T) {
	const n = 5
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("stop/fail-at-%d", k), func(t *testing.T) {
			rep, err := New(registry.Default(), cdptest.NewSession()).Run(context.Background(), scriptFailingAt(n, k))
			require.NoError(t, err)
			assert.Len(t, rep.Results, k)
			assert.Equal(t, k-1, rep.Successful)
			assert.Equal(t, 1, rep.Failed)
			assert.Equal(t, 0, rep.Skipped)
		})

		t.Run(fmt.Sprintf("skip/fail-at-%d", k), func(t *testing.T) {
			rep, err := New(registry.Default(), cdptest.NewSession(), WithPolicy(SkipOnFailure)).
				Run(context.Background(), scriptFailingAt(n, k))
			require.NoError(t, err)
			assert.Len(t, rep.Results, n)
			assert.Equal(t, k-1, rep.Successful)
			assert.Equal(t, 1, rep.Failed)
			assert.Equal(t, n-k, rep.Skipped)
			for _, res := range rep.Results[k:] {
				assert.Equal(t, report.StatusSkipped, res.Status)
				assert.Zero(t, res.Duration)
			}
		})

		t.Run(fmt.Sprintf("continue/fail-at-%d", k), func(t *testing.T) {
			rep, err := New(registry.Default(), cdptest.NewSession(), WithPolicy(ContinueOnFailure)).
				Run(context.Background(), scriptFailingAt(n, k))
			require.NoError(t, err)
			assert.Len(t, rep.Results, n)
			assert.Equal(t, n-1, rep.Successful)
			assert.Equal(t, 1, rep.Failed)
			assert.Equal(t, 0, rep.Skipped)
			assert.InDelta(t, float64(n-1)/n*100, rep.SuccessRate(), 1e-9)
		})
	}
}

func TestSessionFailure(t *testing.T) {
	session := cdptest.NewSession().Fail("Page.navigate", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	rep, err := New(registry.Default(), session).Run(context.Background(), newScript(
		cmd("Page.navigate", `{"url":"https://nope.invalid"}`),
	))
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.StatusFailed, rep.Results[0].Status)
	assert.Equal(t, "Page.navigate failed: net::ERR_NAME_NOT_RESOLVED", rep.Results[0].Error)
	assert.Empty(t, rep.Results[0].Response)
}

func TestParameterDecodeFailure(t *testing.T) {
	session := cdptest.NewSession()
	rep, err := New(registry.Default(), session).Run(context.Background(), newScript(
		cmd("Input.dispatchMouseEvent", `{"type":"mousePressed","x":"left","y":2}`),
	))
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Contains(t, rep.Results[0].Error, "failed to parse Input.dispatchMouseEvent parameters")
	assert.Empty(t, session.Calls())
}

func TestSaveScreenshot(t *testing.T) {
	dir := t.TempDir()
	session := cdptest.NewSession().Respond("Page.captureScreenshot", `{"data":"iVBORw0KGgo="}`)

	c := cmd("Page.captureScreenshot", `{"format":"png"}`)
	c.SaveAs = "shots/home.png"
	rep, err := New(registry.Default(), session, WithOutputDir(dir)).Run(context.Background(), newScript(c))
	require.NoError(t, err)
	require.True(t, rep.IsSuccess(), rep.FailureMessage())

	want := filepath.Join(dir, "shots", "home.png")
	assert.Equal(t, want, rep.Results[0].SavedFile)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, data)
}

func TestSaveEvaluateResult(t *testing.T) {
	dir := t.TempDir()
	session := cdptest.NewSession().Respond("Runtime.evaluate", `{"result":{"type":"number","value":42}}`)

	c := cmd("Runtime.evaluate", `{"expression":"6*7","returnByValue":true}`)
	c.SaveAs = filepath.Join(dir, "answer.json")
	rep, err := New(registry.Default(), session, WithOutputDir("ignored-for-absolute-paths")).
		Run(context.Background(), newScript(c))
	require.NoError(t, err)
	require.True(t, rep.IsSuccess(), rep.FailureMessage())
	assert.Equal(t, c.SaveAs, rep.Results[0].SavedFile)

	data, err := os.ReadFile(c.SaveAs)
	require.NoError(t, err)
	assert.Contains(t, string(data), "42")
}

func TestSaveAsIgnoredWithoutPayload(t *testing.T) {
	dir := t.TempDir()
	c := cmd("Page.reload", "")
	c.SaveAs = "reload.txt"
	rep, err := New(registry.Default(), cdptest.NewSession(), WithOutputDir(dir)).Run(context.Background(), newScript(c))
	require.NoError(t, err)
	assert.True(t, rep.IsSuccess())
	assert.Empty(t, rep.Results[0].SavedFile)
	assert.NoFileExists(t, filepath.Join(dir, "reload.txt"))
}

func TestSaveWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	session := cdptest.NewSession().Respond("Page.captureScreenshot", `{"data":"aGVsbG8="}`)
	c := cmd("Page.captureScreenshot", "")
	c.SaveAs = "file/shot.png"
	rep, err := New(registry.Default(), session, WithOutputDir(dir)).Run(context.Background(), newScript(c))
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.StatusFailed, rep.Results[0].Status)
	assert.Contains(t, rep.Results[0].Error, "failed to write Page.captureScreenshot output to")
}

func TestCommandTimeout(t *testing.T) {
	session := cdptest.NewSession().Delay("Page.navigate", 5*time.Second)
	rep, err := New(registry.Default(), session, WithCommandTimeout(20*time.Millisecond)).
		Run(context.Background(), newScript(
			cmd("Page.navigate", `{"url":"https://slow.example"}`),
			cmd("Page.reload", ""),
		))
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Contains(t, rep.Results[0].Error, context.DeadlineExceeded.Error())
	assert.Less(t, rep.TotalDuration, 5*time.Second)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := New(registry.Default(), cdptest.NewSession()).Run(ctx, newScript(cmd("Page.reload", "")))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Empty(t, rep.Results)
}

func TestContextEndsMidCommand(t *testing.T) {
	for _, policy := range []Policy{StopOnFailure, SkipOnFailure, ContinueOnFailure} {
		t.Run(policy.String(), func(t *testing.T) {
			session := cdptest.NewSession().Delay("Page.reload", time.Second)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			rep, err := New(registry.Default(), session, WithPolicy(policy)).Run(ctx, newScript(
				cmd("Page.reload", ""),
				cmd("Page.navigate", `{"url":"https://example.com"}`),
			))
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			require.NotNil(t, rep)
			require.Len(t, rep.Results, 1)
			assert.Equal(t, 1, rep.Failed)
			assert.Equal(t, []string{"Page.reload"}, session.Methods())
		})
	}
}

func TestRunRequiresSession(t *testing.T) {
	_, err := New(registry.Default(), nil).Run(context.Background(), newScript(cmd("Page.reload", "")))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRunConnectFailure(t *testing.T) {
	session := cdptest.NewSession()
	session.ConnectErr = errors.New("connection refused")

	_, err := New(registry.Default(), session).Run(context.Background(), newScript(cmd("Page.reload", "")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to browser")
	assert.Empty(t, session.Calls())
}

func TestRunRejectsStructurallyInvalidScript(t *testing.T) {
	tests := []struct {
		name string
		s    *script.Script
	}{
		{"empty name", &script.Script{Commands: []script.Command{cmd("Page.reload", "")}}},
		{"no commands", &script.Script{Name: "x"}},
		{"bad method", newScript(cmd("reload", ""))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := cdptest.NewSession()
			rep, err := New(registry.Default(), session).Run(context.Background(), tt.s)
			assert.Nil(t, rep)
			var structErr *script.StructuralError
			assert.ErrorAs(t, err, &structErr)
			assert.Empty(t, session.Calls())
		})
	}
}

func TestObserverSeesEveryRecordedStep(t *testing.T) {
	var seen []report.Result
	e := New(registry.Default(), cdptest.NewSession(),
		WithPolicy(SkipOnFailure),
		WithObserver(func(r report.Result) { seen = append(seen, r) }),
	)
	rep, err := e.Run(context.Background(), scriptFailingAt(3, 2))
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, rep.Results, seen)
	assert.Equal(t, []report.Status{report.StatusSuccess, report.StatusFailed, report.StatusSkipped},
		[]report.Status{seen[0].Status, seen[1].Status, seen[2].Status})
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	e := New(registry.Default(), cdptest.NewSession(), WithLogger(log.New(&buf, "", 0)))
	_, err := e.Run(context.Background(), scriptFailingAt(2, 2))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[executor] running \"test\"")
	assert.Contains(t, out, "[executor] step 1 Page.reload ok")
	assert.Contains(t, out, "[executor] step 2 Invalid.thing failed")
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", StopOnFailure, false},
		{"stop", StopOnFailure, false},
		{"Skip", SkipOnFailure, false},
		{" continue ", ContinueOnFailure, false},
		{"retry", StopOnFailure, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, s string) Policy {
	t.Helper()
	p, err := ParsePolicy(s)
	require.NoError(t, err)
	return p
}
