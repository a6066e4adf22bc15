package daemon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"vert/internal/logging"
)

const (
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// handleProgress streams ProgressUpdate wire JSON to a WebSocket client,
// optionally filtered to one task with ?task=.
func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket accept failed", logging.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	taskID := strings.TrimSpace(r.URL.Query().Get("task"))
	sub := s.daemon.hub.subscribe(taskID)
	defer s.daemon.hub.unsubscribe(sub)

	// Clients only listen; CloseRead handles their close frames and cancels
	// ctx when the connection goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Debug("websocket ping failed", logging.Error(err))
				return
			}
		case update := <-sub.updates:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, update)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Debug("websocket write failed", logging.Error(err))
				}
				return
			}
		}
	}
}
