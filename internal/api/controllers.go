package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signal-trader/internal/engine"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/pkg/exchanges/common"
)

type connectExchangeRequest struct {
	Exchange   string `json:"exchange" binding:"required"`
	APIKey     string `json:"apiKey"`
	SecretKey  string `json:"secretKey"`
	Passphrase string `json:"passphrase"`
}

type placeOrderRequest struct {
	Exchange string          `json:"exchange" binding:"required"`
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required"`
	Type     string          `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Leverage int             `json:"leverage"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}

// respond writes an engine result. Failed operations are reported as 400 with
// the same envelope body.
func respond(c *gin.Context, env engine.Envelope, body any) {
	status := http.StatusOK
	if !env.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, body)
}

func (s *Server) exchangeParam(c *gin.Context) (common.Exchange, bool) {
	ex, err := common.ParseExchange(c.Param("exchange"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_EXCHANGE", err.Error())
		return "", false
	}
	return ex, true
}

func (s *Server) connectExchange(c *gin.Context) {
	var req connectExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	ex, err := common.ParseExchange(req.Exchange)
	if err != nil {
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_EXCHANGE", err.Error())
		return
	}
	res := s.Engine.ConnectExchange(c.Request.Context(), CurrentUserID(c), common.Credentials{
		Exchange:   ex,
		APIKey:     strings.TrimSpace(req.APIKey),
		SecretKey:  strings.TrimSpace(req.SecretKey),
		Passphrase: req.Passphrase,
	})
	respond(c, res.Envelope, res)
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	ex, err := common.ParseExchange(req.Exchange)
	if err != nil {
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_EXCHANGE", err.Error())
		return
	}
	res := s.Engine.PlaceOrder(c.Request.Context(), CurrentUserID(c), ex, common.OrderRequest{
		Symbol:   req.Symbol,
		Side:     common.Side(strings.ToUpper(req.Side)),
		Type:     common.OrderType(strings.ToUpper(req.Type)),
		Quantity: req.Quantity,
		Price:    req.Price,
		Leverage: req.Leverage,
	})
	respond(c, res.Envelope, res)
}

func (s *Server) getBalance(c *gin.Context) {
	ex, ok := s.exchangeParam(c)
	if !ok {
		return
	}
	res := s.Engine.GetBalance(c.Request.Context(), CurrentUserID(c), ex)
	respond(c, res.Envelope, res)
}

func (s *Server) getPositions(c *gin.Context) {
	ex, ok := s.exchangeParam(c)
	if !ok {
		return
	}
	res := s.Engine.GetPositions(c.Request.Context(), CurrentUserID(c), ex)
	respond(c, res.Envelope, res)
}

func (s *Server) getAutoTradingConfig(c *gin.Context) {
	res := s.Engine.GetAutoTradingConfig(c.Request.Context(), CurrentUserID(c))
	respond(c, res.Envelope, res)
}

func (s *Server) updateAutoTradingConfig(c *gin.Context) {
	var patch risk.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if patch.Empty() {
		respondError(c, http.StatusBadRequest, "EMPTY_PATCH", "no config fields supplied")
		return
	}
	res := s.Engine.UpdateAutoTradingConfig(c.Request.Context(), CurrentUserID(c), patch)
	respond(c, res.Envelope, res)
}

func (s *Server) toggleAutoTrading(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "enabled is required")
		return
	}
	res := s.Engine.ToggleAutoTrading(c.Request.Context(), CurrentUserID(c), *req.Enabled)
	respond(c, res.Envelope, res)
}

func (s *Server) getTradingStats(c *gin.Context) {
	res := s.Engine.GetTradingStats(c.Request.Context(), CurrentUserID(c))
	respond(c, res.Envelope, res)
}

func (s *Server) getTradeHistory(c *gin.Context) {
	res := s.Engine.GetTradeHistory(c.Request.Context(), CurrentUserID(c))
	respond(c, res.Envelope, res)
}

func (s *Server) getOpenTrades(c *gin.Context) {
	res := s.Engine.GetOpenTrades(c.Request.Context(), CurrentUserID(c))
	respond(c, res.Envelope, res)
}

func (s *Server) processSignal(c *gin.Context) {
	var sig signal.TradeSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res := s.Engine.ProcessSignal(c.Request.Context(), CurrentUserID(c), sig)
	respond(c, res.Envelope, res)
}

func (s *Server) executeManualTrade(c *gin.Context) {
	var req engine.ManualTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.Side = common.Side(strings.ToUpper(string(req.Side)))
	res := s.Engine.ExecuteManualTrade(c.Request.Context(), CurrentUserID(c), req)
	respond(c, res.Envelope, res)
}

func (s *Server) closePosition(c *gin.Context) {
	res := s.Engine.ClosePosition(c.Request.Context(), CurrentUserID(c), c.Param("symbol"))
	respond(c, res.Envelope, res)
}

func (s *Server) ingestSignal(c *gin.Context) {
	var sig signal.TradeSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res := s.Engine.IngestSignal(c.Request.Context(), sig)
	respond(c, res.Envelope, res)
}

func (s *Server) scoreSignal(c *gin.Context) {
	var in signal.Inputs
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res := s.Engine.ScoreSignal(c.Request.Context(), in, c.Query("publish") == "true")
	respond(c, res.Envelope, res)
}

func (s *Server) latestSignal(c *gin.Context) {
	res := s.Engine.LatestSignal(c.Request.Context(), strings.ToUpper(c.Param("symbol")))
	if !res.Success {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getMetrics(c *gin.Context) {
	res := s.Engine.Metrics(c.Request.Context())
	c.JSON(http.StatusOK, res)
}
