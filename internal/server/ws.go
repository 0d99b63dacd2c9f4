package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"

	"github.com/cmux-cli/cdpscript/internal/report"
	"github.com/cmux-cli/cdpscript/internal/script"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// Event is one message streamed to a /ws/run client.
type Event struct {
	Type       string           `json:"type"` // step, report, validation, error
	RunID      string           `json:"run_id,omitempty"`
	Step       *report.Result   `json:"result,omitzero"`
	Report     *report.Report   `json:"report,omitzero"`
	Validation *validate.Result `json:"validation,omitzero"`
	Status     string           `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// handleRunWebSocket reads one script from the client, runs it and
// streams a step event per command followed by the final report.
func (s *Server) handleRunWebSocket(w http.ResponseWriter, r *http.Request) {
	policy, err := s.policyFor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[server] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	send := func(ev Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Printf("[server] failed to encode %s event: %v", ev.Type, err)
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Printf("[server] websocket write failed: %v", err)
			return false
		}
		return true
	}

	_, body, err := conn.ReadMessage()
	if err != nil {
		s.logger.Printf("[server] websocket read failed: %v", err)
		return
	}

	res := s.validator.ValidateJSON(body)
	observeValidation(res.Valid)
	if !res.Valid {
		metricRuns.WithLabelValues(statusInvalid).Inc()
		send(Event{Type: "validation", Status: statusInvalid, Validation: res, Message: res.Err().Error()})
		closeWebSocket(conn, websocket.ClosePolicyViolation, "invalid script")
		return
	}
	sc, err := script.Parse(body)
	if err != nil {
		send(Event{Type: "error", Status: statusError, Message: err.Error()})
		closeWebSocket(conn, websocket.CloseUnsupportedData, "invalid script")
		return
	}

	// A hijacked connection does not cancel r.Context() when the peer goes
	// away, so a dead client is detected by reading until the socket fails.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	resp := s.execute(ctx, sc, policy, func(runID string, step report.Result) {
		send(Event{Type: "step", RunID: runID, Step: &step})
	})
	if resp.Report == nil {
		send(Event{Type: "error", RunID: resp.RunID, Status: resp.Status, Message: resp.Message})
		closeWebSocket(conn, websocket.CloseInternalServerErr, "execution failed")
		return
	}
	send(Event{Type: "report", RunID: resp.RunID, Status: resp.Status, Message: resp.Message, Report: resp.Report})
	closeWebSocket(conn, websocket.CloseNormalClosure, resp.Status)
}

func closeWebSocket(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
