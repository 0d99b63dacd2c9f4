// Package cdptest provides a scripted stand-in for a CDP session.
package cdptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Call records one Execute invocation.
type Call struct {
	Method string
	Params jsontext.Value
}

// Session implements cdp.Executor. Responses and errors are keyed by
// method; methods without a canned response answer with "{}".
type Session struct {
	mu        sync.Mutex
	responses map[string]jsontext.Value
	errs      map[string]error
	delays    map[string]time.Duration
	calls     []Call

	// ConnectErr is returned by Connect when set.
	ConnectErr error
}

// NewSession returns an empty fake session.
func NewSession() *Session {
	return &Session{
		responses: make(map[string]jsontext.Value),
		errs:      make(map[string]error),
		delays:    make(map[string]time.Duration),
	}
}

// Respond sets the JSON result returned for method.
func (s *Session) Respond(method, result string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[method] = jsontext.Value(result)
	return s
}

// Fail makes method return err.
func (s *Session) Fail(method string, err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = err
	return s
}

// Delay makes method block for d or until the context is done.
func (s *Session) Delay(method string, d time.Duration) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method] = d
	return s
}

// Connect satisfies the optional connector interface used by the executor.
func (s *Session) Connect(ctx context.Context) error {
	return s.ConnectErr
}

// Execute records the call and answers from the canned responses.
func (s *Session) Execute(ctx context.Context, method string, params, res any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("cdptest: failed to encode params: %w", err)
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Params: raw})
	resp, hasResp := s.responses[method]
	callErr := s.errs[method]
	delay := s.delays[method]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if callErr != nil {
		return callErr
	}
	if !hasResp {
		resp = jsontext.Value("{}")
	}
	if res == nil {
		return nil
	}
	return json.Unmarshal(resp, res)
}

// Calls returns the recorded calls in order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods returns the recorded method names in order.
func (s *Session) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Method
	}
	return out
}
