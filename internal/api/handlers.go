package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/optimizer"
	"forex-signal-engine/internal/regime"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"clients": s.hub.ClientCount(),
	}
	if s.health != nil {
		if err := s.health.HealthCheck(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

type evaluateRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	symbol := strings.ToUpper(req.Symbol)
	if !allowedSymbol(s.config.Symbols, symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown symbol", "symbol": symbol})
		return
	}

	eval, err := s.engine.Evaluate(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, market.ErrDataUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "market data unavailable", "symbol": symbol})
			return
		}
		s.log.Error().Err(err).Str("symbol", symbol).Msg("evaluation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}

	if eval.Signal != nil {
		s.hub.BroadcastSignal(eval.Signal)
	}
	c.JSON(http.StatusOK, eval)
}

func (s *Server) handleOpenSignals(c *gin.Context) {
	signals, err := s.signals.ListOpen(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("listing open signals failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	signals, err := s.signals.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing recent signals failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleWeights(c *gin.Context) {
	key, ok := contextFromQuery(c)
	if !ok {
		return
	}

	w, err := s.weights.Weights(c.Request.Context(), key)
	if err != nil {
		s.log.Error().Err(err).Str("context", key.Key()).Msg("weight lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"context": key, "weights": w})
}

func (s *Server) handleTrainingLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.trainingLog.TrainingLog(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing training log failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type trainRequest struct {
	Symbol  string `json:"symbol" binding:"required"`
	Session string `json:"session" binding:"required"`
	Regime  string `json:"regime" binding:"required"`
}

func (s *Server) handleTrain(c *gin.Context) {
	if s.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training is not enabled"})
		return
	}

	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, session and regime are required"})
		return
	}
	key := confluence.Context{
		Symbol:  strings.ToUpper(req.Symbol),
		Session: regime.Session(strings.ToUpper(req.Session)),
		Regime:  regime.Label(strings.ToUpper(req.Regime)),
	}

	res, err := s.trainer.Optimize(c.Request.Context(), key)
	switch {
	case errors.Is(err, optimizer.ErrInsufficientSamples):
		c.JSON(http.StatusConflict, gin.H{"error": "not enough closed signals to train", "context": key})
	case errors.Is(err, optimizer.ErrTrainingInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "training already in flight", "context": key})
	case err != nil:
		s.log.Error().Err(err).Str("context", key.Key()).Msg("training failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "training failed"})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func contextFromQuery(c *gin.Context) (confluence.Context, bool) {
	symbol := strings.ToUpper(c.Query("symbol"))
	session := strings.ToUpper(c.Query("session"))
	label := strings.ToUpper(c.Query("regime"))
	if symbol == "" || session == "" || label == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, session and regime query parameters are required"})
		return confluence.Context{}, false
	}
	return confluence.Context{
		Symbol:  symbol,
		Session: regime.Session(session),
		Regime:  regime.Label(label),
	}, true
}

func allowedSymbol(symbols []string, symbol string) bool {
	if len(symbols) == 0 {
		return true
	}
	for _, s := range symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}
