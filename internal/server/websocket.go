package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/exercise"
	"github.com/michaelbrown/labrunner/internal/storage"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // identity middleware has already run
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type       string                    `json:"type"`
	Content    string                    `json:"content,omitempty"`
	Result     *execution.TestCaseResult `json:"result,omitempty"`
	Submission *storage.Submission       `json:"submission,omitempty"`
}

// handleWebSocket grades submissions sent as {"type":"submit","code":...},
// streaming a case_result message per test case and then a graded message.
// One submission is graded at a time; a second one may queue behind it and
// anything beyond that is refused. Closing the connection cancels the
// submission in flight.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "exercise not found", http.StatusNotFound)
		return
	}
	user := UserID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The request context of a hijacked connection outlives the peer.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Mutex for thread-safe writes to the WebSocket connection
	var wsMu sync.Mutex
	pending := make(chan string, 1)

	// Read loop
	go func() {
		defer cancel()
		for {
			var msg wsIncoming
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}

			if msg.Type != "submit" {
				s.wsWriteJSON(conn, &wsMu, wsOutgoing{Type: "error", Content: "invalid message"})
				continue
			}
			select {
			case pending <- msg.Code:
			default:
				s.wsWriteJSON(conn, &wsMu, wsOutgoing{Type: "error", Content: "a submission is already being graded"})
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case code := <-pending:
			s.processSubmission(ctx, conn, &wsMu, user, ex, code)
		}
	}
}

func (s *Server) processSubmission(ctx context.Context, conn *websocket.Conn, wsMu *sync.Mutex, user string, ex *exercise.Exercise, code string) {
	onResult := func(res execution.TestCaseResult) {
		s.wsWriteJSON(conn, wsMu, wsOutgoing{Type: "case_result", Result: &res})
	}

	sub, err := s.submit(ctx, user, ex, code, onResult)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug().Str("user", user).Str("exercise", ex.ID).Msg("websocket closed during grading")
			return
		}
		s.wsWriteJSON(conn, wsMu, wsOutgoing{Type: "error", Content: err.Error()})
		return
	}
	s.wsWriteJSON(conn, wsMu, wsOutgoing{Type: "graded", Submission: sub})
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, mu *sync.Mutex, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket marshal error")
		return
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("websocket write error")
	}
}
