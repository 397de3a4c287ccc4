package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/c360studio/modernizer/migration"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS streams a migration's progress events. The first message is
// always a connection acknowledgement; after that the client sees
// events from the moment of subscription forward, with no replay.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.opts.Registry.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "migration not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "migration_id", id, "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.opts.Bus.Subscribe(id)
	defer unsubscribe()

	hello := migration.NewEvent(migration.EventConnection, id)
	hello.Message = "subscribed to migration events"
	if err := s.writeEvent(conn, hello); err != nil {
		return
	}

	// Reader goroutine: surfaces client disconnects; inbound frames
	// are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Bus shut down; tell the client we are done.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				s.logger.Debug("websocket send failed", "migration_id", id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev migration.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
