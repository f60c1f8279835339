// File: internal/service/websocket.go
package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second
	// Time allowed to receive the request message after the upgrade.
	wsRequestWait = 30 * time.Second
	// Maximum message size allowed from peer.
	wsMaxMessageSize = maxRequestBody
)

// handleRunWS runs one request over a websocket. The client sends the request
// as its first message and receives every event as one JSON message. Closing
// the socket cancels the run.
func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			_, ok := s.allowedOrigin(r.Header.Get("Origin"))
			return ok || r.Header.Get("Origin") == ""
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection to WebSocket.", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	sink := &wsSink{conn: conn}
	var req schemas.AgentRequest
	_ = conn.SetReadDeadline(time.Now().Add(wsRequestWait))
	if err := conn.ReadJSON(&req); err != nil {
		_ = sink.Emit(r.Context(), errorEvent(errors.New("invalid request message: "+err.Error())))
		sink.close(websocket.CloseUnsupportedData)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	slot, err := s.runner.Admit(r.Context(), &req)
	if err != nil {
		_ = sink.Emit(r.Context(), errorEvent(err))
		code := websocket.CloseTryAgainLater
		if errors.Is(err, ErrInvalidRequest) {
			code = websocket.ClosePolicyViolation
		}
		sink.close(code)
		return
	}
	defer slot.Release()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	if _, err := slot.Execute(ctx, sink); err != nil {
		s.logger.Warn("Run ended with an error.", zap.String("session", slot.Session), zap.Error(err))
	}
	sink.close(websocket.CloseNormalClosure)
	_ = conn.Close()
	<-readerDone
}

// wsSink serializes event writes to one websocket connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Emit(_ context.Context, ev schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *wsSink) close(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
