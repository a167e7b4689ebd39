package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"traderbird-core/internal/bot"
	"traderbird-core/pkg/db"
	"traderbird-core/pkg/exchanges/common"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"venue":    s.Meta.Venue,
		"testnet":  s.Meta.Testnet,
		"version":  s.Meta.Version,
		"channels": s.Registry.Channels(),
	})
}

func (s *Server) listChannels(c *gin.Context) {
	channels, err := s.DB.ListChannels(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(channels))
	for _, ch := range channels {
		out = append(out, gin.H{
			"chat_id":   ch.ChatID,
			"buy_size":  ch.BuySize,
			"buy_quote": ch.BuyQuote,
		})
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// channelBot resolves the bot for the chat id in the route, creating the
// channel on first contact.
func (s *Server) channelBot(c *gin.Context) (*bot.Bot, bool) {
	b, err := s.Registry.GetOrCreate(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return b, true
}

// reply sends the operation's displayable result, or the error mapped to a
// status code.
func reply(c *gin.Context, msg string, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrRejected), errors.Is(err, common.ErrUnknownSymbol):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ----------------------------------------
// Accounts
// ----------------------------------------

func (s *Server) listAccounts(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.ListAccounts(c.Request.Context())
	reply(c, msg, err)
}

func (s *Server) addAccount(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.AddAccount(c.Request.Context(), req.Username)
	reply(c, msg, err)
}

func (s *Server) removeAccount(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.RemoveAccount(c.Request.Context(), c.Param("name"))
	reply(c, msg, err)
}

// ----------------------------------------
// Filters
// ----------------------------------------

func (s *Server) listFilters(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.ListFilters(c.Request.Context())
	reply(c, msg, err)
}

func (s *Server) addFilter(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		Keyword string `json:"keyword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.AddFilter(c.Request.Context(), req.Keyword)
	reply(c, msg, err)
}

func (s *Server) removeFilter(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.RemoveFilter(c.Request.Context(), c.Param("keyword"))
	reply(c, msg, err)
}

// ----------------------------------------
// Settings
// ----------------------------------------

func (s *Server) setSize(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		Size string `json:"size" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.SetSize(c.Request.Context(), req.Size)
	reply(c, msg, err)
}

func (s *Server) setQuote(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		Quote string `json:"quote" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.SetQuote(c.Request.Context(), req.Quote)
	reply(c, msg, err)
}

func (s *Server) getPrice(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.Price(c.Request.Context(), c.Param("base"), c.Query("quote"))
	reply(c, msg, err)
}

// ----------------------------------------
// Trading
// ----------------------------------------

func (s *Server) listOrders(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	orders, err := s.DB.ListChannelOrders(c.Request.Context(), b.Channel.ID)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, gin.H{
			"id":    o.ID,
			"pair":  o.Base + o.Quote,
			"size":  o.Size,
			"state": o.State(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) buy(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		TweetID int64  `json:"tweet_id"`
		Base    string `json:"base" binding:"required"`
		Quote   string `json:"quote"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.Buy(c.Request.Context(), req.TweetID, req.Base, req.Quote)
	reply(c, msg, err)
}

func (s *Server) sell(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		OrderID string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.Sell(c.Request.Context(), req.OrderID)
	reply(c, msg, err)
}

func (s *Server) orderSummary(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.Summary(c.Request.Context(), c.Param("id"))
	reply(c, msg, err)
}

// ----------------------------------------
// Tracking
// ----------------------------------------

func (s *Server) track(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	var req struct {
		OrderID string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := b.Track(c.Request.Context(), req.OrderID)
	reply(c, msg, err)
}

func (s *Server) untrack(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	msg, err := b.Untrack(c.Request.Context(), c.Param("id"))
	reply(c, msg, err)
}

func (s *Server) untrackAll(c *gin.Context) {
	b, ok := s.channelBot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": b.UntrackAll()})
}
