// Package api exposes the channel operations over HTTP and bridges the event
// bus to websocket clients.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"traderbird-core/internal/bot"
	"traderbird-core/internal/events"
	"traderbird-core/pkg/db"
)

// Server wires HTTP endpoints around the channel registry and event bus.
type Server struct {
	Router   *gin.Engine
	Registry *bot.Registry
	Bus      *events.Bus
	DB       *db.Database
	Meta     SystemMeta
}

// SystemMeta describes runtime status exposed to the front end.
type SystemMeta struct {
	Venue   string
	Testnet bool
	Version string
}

func NewServer(registry *bot.Registry, bus *events.Bus, database *db.Database, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Registry: registry,
		Bus:      bus,
		DB:       database,
		Meta:     meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/channels", s.listChannels)

		ch := api.Group("/channels/:chat_id")
		{
			ch.GET("/accounts", s.listAccounts)
			ch.POST("/accounts", s.addAccount)
			ch.DELETE("/accounts/:name", s.removeAccount)

			ch.GET("/filters", s.listFilters)
			ch.POST("/filters", s.addFilter)
			ch.DELETE("/filters/:keyword", s.removeFilter)

			ch.PUT("/size", s.setSize)
			ch.PUT("/quote", s.setQuote)
			ch.GET("/price/:base", s.getPrice)

			ch.GET("/orders", s.listOrders)
			ch.POST("/buy", s.buy)
			ch.POST("/sell", s.sell)
			ch.GET("/orders/:id/summary", s.orderSummary)

			ch.POST("/track", s.track)
			ch.DELETE("/track/:id", s.untrack)
			ch.DELETE("/track", s.untrackAll)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
