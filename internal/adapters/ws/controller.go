// Package ws bridges gorilla websockets and the relay: it upgrades the HTTP
// request, assigns the connection its client id, and runs the read/write
// pumps. All protocol logic lives in the relay.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
	"github.com/lanparty/server/internal/relay"
)

const writeWait = 5 * time.Second

type Controller struct {
	Relay      *relay.Relay
	ReadLimit  int64
	SendBuffer int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}
	if ctl.ReadLimit > 0 {
		sock.SetReadLimit(ctl.ReadLimit)
	}

	buffer := ctl.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}
	conn := newConn(sock, buffer)
	id := domain.ClientID(uuid.NewString())
	log.Info().Str("module", "ws").Str("id", string(id)).Str("remote", c.Request.RemoteAddr).Msg("new connection")

	ctl.Relay.Connect(id, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.ClientID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("id", string(id)).Msg("readPump closing")
		c.Close()
		ctl.Relay.Disconnect(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "ws").Str("id", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.Relay.Forward(id, data)
		}
	}
}
