package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"traderbird-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// broadcastTopics are the bus events bridged to websocket clients.
var broadcastTopics = []events.Event{
	events.EventTweetMatch,
	events.EventOrderBought,
	events.EventOrderSold,
	events.EventPriceTick,
	events.EventError,
}

// websocket streams every outbound broadcast to the client as JSON. The
// connection closes when the client goes away or a write fails.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	merged := make(chan any, 100)
	var wg sync.WaitGroup
	unsubs := make([]func(), 0, len(broadcastTopics))
	for _, topic := range broadcastTopics {
		ch, unsub := s.Bus.Subscribe(topic, 100)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func(ch <-chan any) {
			defer wg.Done()
			for msg := range ch {
				merged <- msg
			}
		}(ch)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		go func() {
			wg.Wait()
			close(merged)
		}()
		// Drain so the forwarders never block on a dead client.
		for range merged {
		}
	}()

	for msg := range merged {
		if err := conn.WriteJSON(msg); err != nil {
			logrus.WithError(err).Debug("ws write failed")
			return
		}
	}
}
