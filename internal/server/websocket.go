package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/siftdev/siftd/internal/pipeline"
	"github.com/siftdev/siftd/internal/store"
)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	// The server binds to loopback; cross-origin browsers are fine.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is one frame on the status stream.
type wsMessage struct {
	Type     string             `json:"type"`
	Snapshot *pipeline.Snapshot `json:"snapshot,omitempty"`
	Event    *pipeline.Event    `json:"event,omitempty"`
	Stats    *store.Stats       `json:"stats,omitempty"`
}

// statusStream upgrades to WebSocket and streams tracker events. The
// client gets the current snapshot on connect, every tracker event
// after that, and fresh index statistics whenever a run ends.
func (s *Server) statusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.svc.Subscribe()
	defer cancel()

	// Reads are only needed to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := s.svc.Status()
	if err := s.writeMessage(conn, wsMessage{Type: "snapshot", Snapshot: &snapshot}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return

		case <-c.Request.Context().Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeMessage(conn, wsMessage{Type: "event", Event: &event}); err != nil {
				return
			}

			if event.Type == pipeline.EventFinished || event.Type == pipeline.EventFailed || event.Type == pipeline.EventDiffFailed {
				stats, err := s.svc.Stats(c.Request.Context())
				if err != nil {
					s.logger.Warn("ws_stats_failed", slog.String("error", err.Error()))
					continue
				}
				if err := s.writeMessage(conn, wsMessage{Type: "stats", Stats: &stats}); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) writeMessage(conn *websocket.Conn, msg wsMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}
