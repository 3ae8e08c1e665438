package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signal-trader/internal/autotrade"
	"signal-trader/internal/events"
	"signal-trader/internal/order"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is one pushed event.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// visibleTo reports whether a bus payload may be pushed to userID. Trade
// events carry their owner; market and signal events are public.
func visibleTo(userID string, payload any) bool {
	switch p := payload.(type) {
	case autotrade.TradeEvent:
		return p.UserID == userID
	case autotrade.Rejection:
		return p.UserID == userID
	case order.Failure:
		// no owner recorded
		return false
	}
	return true
}

func (s *Server) websocket(c *gin.Context) {
	userID := CurrentUserID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteJSON(wsMessage{Type: "error", Data: "bus not ready"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader: only pongs and close frames are expected.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	out := make(chan wsMessage, 64)
	for _, topic := range events.Topics {
		ch, unsub := s.Bus.Subscribe(topic, 64)
		defer unsub()
		go func(topic events.Event, ch <-chan any) {
			for payload := range ch {
				if !visibleTo(userID, payload) {
					continue
				}
				select {
				case out <- wsMessage{Type: string(topic), Data: payload}:
				case <-ctx.Done():
					return
				}
			}
		}(topic, ch)
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	log := s.log.WithField("user_id", userID)
	log.Debug("ws client connected")
	for {
		select {
		case <-ctx.Done():
			log.Debug("ws client disconnected")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				return
			}
		}
	}
}
