// Package report holds the outcome of executing a script.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Status is the outcome of one command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result records one attempted (or skipped) command.
type Result struct {
	Step      int
	Method    string
	Status    Status
	Duration  time.Duration
	Response  jsontext.Value
	Error     string
	SavedFile string
}

type resultJSON struct {
	Step      int            `json:"step"`
	Method    string         `json:"method"`
	Status    Status         `json:"status"`
	Duration  float64        `json:"duration"`
	Response  jsontext.Value `json:"response,omitzero"`
	Error     string         `json:"error,omitempty"`
	SavedFile string         `json:"saved_file,omitempty"`
}

// MarshalJSON encodes the duration in fractional seconds.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Step:      r.Step,
		Method:    r.Method,
		Status:    r.Status,
		Duration:  r.Duration.Seconds(),
		Response:  r.Response,
		Error:     r.Error,
		SavedFile: r.SavedFile,
	})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var w resultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Result{
		Step:      w.Step,
		Method:    w.Method,
		Status:    w.Status,
		Duration:  seconds(w.Duration),
		Response:  w.Response,
		Error:     w.Error,
		SavedFile: w.SavedFile,
	}
	return nil
}

// Report aggregates the results of one run. It is appended to while the
// run is in progress and read-only afterwards.
type Report struct {
	ScriptName    string
	TotalCommands int
	Successful    int
	Failed        int
	Skipped       int
	TotalDuration time.Duration
	Results       []Result
}

type reportJSON struct {
	ScriptName    string   `json:"script_name"`
	TotalCommands int      `json:"total_commands"`
	Successful    int      `json:"successful"`
	Failed        int      `json:"failed"`
	Skipped       int      `json:"skipped"`
	TotalDuration float64  `json:"total_duration"`
	Results       []Result `json:"results"`
}

// New starts an empty report for a script with total commands.
func New(scriptName string, total int) *Report {
	return &Report{
		ScriptName:    scriptName,
		TotalCommands: total,
		Results:       make([]Result, 0, total),
	}
}

// Add appends a result and updates the counters.
func (r *Report) Add(res Result) {
	switch res.Status {
	case StatusSuccess:
		r.Successful++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
	r.TotalDuration += res.Duration
	r.Results = append(r.Results, res)
}

// IsSuccess reports whether every command ran and succeeded.
func (r *Report) IsSuccess() bool {
	return r.Failed == 0 && r.Successful == r.TotalCommands
}

// SuccessRate is the percentage of commands that succeeded.
func (r *Report) SuccessRate() float64 {
	if r.TotalCommands == 0 {
		return 0
	}
	return float64(r.Successful) / float64(r.TotalCommands) * 100
}

// FailedStep returns the first failed result.
func (r *Report) FailedStep() (Result, bool) {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return res, true
		}
	}
	return Result{}, false
}

// FailureMessage renders the first failure as "step N of M failed: msg",
// or "" when nothing failed.
func (r *Report) FailureMessage() string {
	res, ok := r.FailedStep()
	if !ok {
		return ""
	}
	return fmt.Sprintf("step %d of %d failed: %s", res.Step, r.TotalCommands, res.Error)
}

// Summary is a one-line description of the run.
func (r *Report) Summary() string {
	s := fmt.Sprintf("%s: %d/%d commands succeeded in %s",
		r.ScriptName, r.Successful, r.TotalCommands, r.TotalDuration.Round(time.Millisecond))
	if r.Failed > 0 || r.Skipped > 0 {
		s += fmt.Sprintf(" (%d failed, %d skipped)", r.Failed, r.Skipped)
	}
	return s
}

func (r *Report) MarshalJSON() ([]byte, error) {
	results := r.Results
	if results == nil {
		results = []Result{}
	}
	return json.Marshal(reportJSON{
		ScriptName:    r.ScriptName,
		TotalCommands: r.TotalCommands,
		Successful:    r.Successful,
		Failed:        r.Failed,
		Skipped:       r.Skipped,
		TotalDuration: r.TotalDuration.Seconds(),
		Results:       results,
	})
}

func (r *Report) UnmarshalJSON(data []byte) error {
	var w reportJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Report{
		ScriptName:    w.ScriptName,
		TotalCommands: w.TotalCommands,
		Successful:    w.Successful,
		Failed:        w.Failed,
		Skipped:       w.Skipped,
		TotalDuration: seconds(w.TotalDuration),
		Results:       w.Results,
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
