package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warp/points-ledger/pkg/logger"
	"github.com/warp/points-ledger/points"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware already restricts origins for browser clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream upgrades to a websocket and pushes the current snapshot followed by
// every published one. A slow client skips intermediate snapshots and always
// receives the latest.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	latest := make(chan points.BalanceSnapshot, 1)
	unsubscribe := h.Engine.OnBalanceChange(func(snap points.BalanceSnapshot) {
		// Observers are delivered one at a time, so after the drain there is
		// always room.
		select {
		case latest <- snap:
		default:
			select {
			case <-latest:
			default:
			}
			latest <- snap
		}
	})
	defer unsubscribe()

	// Reads only detect the peer going away and keep pongs flowing.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(v)
	}

	if err := write(h.balanceDTO()); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap := <-latest:
			if err := write(BalanceDTO{UserID: h.Engine.UserID(), BalanceSnapshot: snap}); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
