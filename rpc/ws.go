package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"nftmarket/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 256
)

// handleEventsWS streams committed events as JSON text frames. The optional
// "type" query parameter keeps only events whose type starts with it.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Unavailable", "event stream disabled")
		return
	}
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, prefix string) error {
	sub := s.bus.Subscribe(wsBuffer)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			if prefix != "" && !strings.HasPrefix(evt.Type, prefix) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
