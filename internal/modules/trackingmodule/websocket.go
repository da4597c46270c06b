package trackingmodule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/videoseg/masktrace/internal/events"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients poll from arbitrary dev origins; the API
		// carries no credentials.
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleProgressStream pushes stage progress events for one session
// over a websocket. Polling GET /status remains the source of truth;
// the stream is advisory and may drop events under load.
func (m *Module) handleProgressStream(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := m.bus.Subscribe(
		events.EventStageProgress,
		events.EventStageCompleted,
		events.EventStageFailed,
		events.EventSessionDeleted,
	)
	defer m.bus.Unsubscribe(sub.ID)

	// Reader goroutine drains control frames and detects client close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial snapshot so the client does not wait for the next event
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(statusResponseFrom(session.Snapshot())); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	sessionID := session.ID()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if event.Data["session_id"] != sessionID {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}

			if event.Type == events.EventSessionDeleted {
				return
			}
		}
	}
}
