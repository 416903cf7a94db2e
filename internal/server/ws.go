package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/livetranscripts/livetranscripts/internal/session"
)

// handleWS upgrades the connection and bridges it to a hub subscriber: a
// write pump drains the subscriber buffer onto the socket while the read
// loop feeds client commands into the hub. Either side failing tears the
// subscriber down; the pipeline itself never notices.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The endpoint binds to localhost by default; browser clients served
		// from file:// or a dev server carry arbitrary origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := s.hub.Subscribe()
	if sub == nil {
		_ = conn.Close(websocket.StatusGoingAway, "session stopped")
		return
	}
	s.log.Debug("websocket connected", "remote", r.RemoteAddr, "subscriber", sub.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer s.hub.Unsubscribe(sub)

	// Write pump.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				if errors.Is(err, session.ErrSubscriberClosed) {
					_ = conn.Close(websocket.StatusGoingAway, "subscriber closed")
				}
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}()

	// Read loop.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		cmd, err := parseCommand(data)
		if err != nil {
			sub.Send(session.ErrorEvent{Type: "error", Kind: "bad_command", Message: err.Error()})
			continue
		}
		s.dispatch(sub, cmd)
	}

	cancel()
	<-writeDone
	_ = conn.CloseNow()
	s.log.Debug("websocket disconnected", "subscriber", sub.ID())
}
