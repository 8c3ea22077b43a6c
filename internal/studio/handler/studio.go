package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sonicalchemy/studio/internal/compose"
	"github.com/sonicalchemy/studio/internal/identity"
	"github.com/sonicalchemy/studio/internal/studio"
	"go.uber.org/zap"
)

// StudioHandler handles the user-facing studio actions: sessions,
// compositions, transfers and the agents' output.
type StudioHandler struct {
	studio       *studio.Studio
	tokens       *identity.TokenIssuer
	registry     *identity.Registry
	sessionLimit gin.HandlerFunc
	logger       *zap.Logger
}

// NewStudioHandler creates a StudioHandler.
func NewStudioHandler(s *studio.Studio, tokens *identity.TokenIssuer, registry *identity.Registry, logger *zap.Logger) *StudioHandler {
	return &StudioHandler{studio: s, tokens: tokens, registry: registry, logger: logger}
}

// SetSessionLimiter installs a middleware in front of POST /sessions only.
func (h *StudioHandler) SetSessionLimiter(mw gin.HandlerFunc) {
	h.sessionLimit = mw
}

// Register mounts the studio routes on the given router group.
func (h *StudioHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireToken(h.tokens, h.registry)

	if h.sessionLimit != nil {
		rg.POST("/sessions", h.sessionLimit, h.InitSession)
	} else {
		rg.POST("/sessions", h.InitSession)
	}
	rg.POST("/sessions/refresh", auth, h.RefreshSession)
	rg.POST("/transfers", auth, h.Transfer)
	rg.POST("/compositions", auth, h.Synthesize)
	rg.GET("/compositions", auth, h.Library)

	a := rg.Group("/agents")
	{
		a.GET("/alerts", h.Alerts)
		a.GET("/actions", h.Actions)
		a.GET("/messages/:id", auth, identity.RequireRole(h.registry, "admin"), h.Messages)
	}
}

// InitSession handles POST /sessions: registers and funds a new user and
// returns its first session token. An id that is already registered gets
// 409; its holder uses POST /sessions/refresh instead.
//
//	Request:  {"user_id":"user-777"}
//	Response: {"identity":{...}, "access_token":"...", "token_type":"Bearer", "expires_in":3600, "balance":"50000"}
func (h *StudioHandler) InitSession(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.HasPrefix(req.UserID, "agent-") || req.UserID == "system" {
		c.JSON(http.StatusForbidden, gin.H{"error": "reserved identity"})
		return
	}

	sess, err := h.studio.InitSession(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, h.logger, "init session", err)
		return
	}
	h.respondSession(c, http.StatusCreated, sess)
}

// RefreshSession handles POST /sessions/refresh. The caller's current
// session token buys a new one for the same identity.
func (h *StudioHandler) RefreshSession(c *gin.Context) {
	claims := identity.ClaimsFromCtx(c)
	sess, err := h.studio.RefreshSession(c.Request.Context(), claims.IdentityID)
	if err != nil {
		writeError(c, h.logger, "refresh session", err)
		return
	}
	h.respondSession(c, http.StatusOK, sess)
}

func (h *StudioHandler) respondSession(c *gin.Context, status int, sess *studio.Session) {
	c.JSON(status, gin.H{
		"identity":     sess.Identity,
		"access_token": sess.Token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
		"balance":      sess.Balance,
	})
}

// Transfer handles POST /transfers: moves studio credit from the caller.
func (h *StudioHandler) Transfer(c *gin.Context) {
	var req struct {
		Destination string          `json:"destination" binding:"required"`
		Amount      decimal.Decimal `json:"amount"`
		Rail        string          `json:"rail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := identity.ClaimsFromCtx(c)
	tx, err := h.studio.Transfer(c.Request.Context(), claims.IdentityID, studio.TransferInput{
		Destination: req.Destination,
		Amount:      req.Amount,
		Rail:        req.Rail,
	})
	if err != nil {
		writeError(c, h.logger, "transfer", err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// Synthesize handles POST /compositions: generates a composition for the
// caller.
func (h *StudioHandler) Synthesize(c *gin.Context) {
	var req compose.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := identity.ClaimsFromCtx(c)
	comp, err := h.studio.Synthesize(c.Request.Context(), claims.IdentityID, req)
	if err != nil {
		writeError(c, h.logger, "synthesize", err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

// Library handles GET /compositions: the caller's compositions, newest
// first.
func (h *StudioHandler) Library(c *gin.Context) {
	claims := identity.ClaimsFromCtx(c)
	c.JSON(http.StatusOK, gin.H{"compositions": h.studio.Library(claims.IdentityID)})
}

// Alerts handles GET /agents/alerts.
func (h *StudioHandler) Alerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.studio.Alerts()})
}

// Actions handles GET /agents/actions: the orchestrator's action log.
func (h *StudioHandler) Actions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": h.studio.Actions()})
}

// Messages handles GET /agents/messages/:id: drains the agent's inbox.
func (h *StudioHandler) Messages(c *gin.Context) {
	msgs, err := h.studio.Messages(c.Param("id"))
	if err != nil {
		// Undeliverable messages stay queued; the rest are returned.
		h.logger.Warn("receive messages", zap.String("agent_id", c.Param("id")), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
