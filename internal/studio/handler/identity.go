package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sonicalchemy/studio/internal/identity"
	"go.uber.org/zap"
)

const adminIdentity = "system"

// IdentityHandler exposes the identity registry and session token issuance.
type IdentityHandler struct {
	registry    *identity.Registry
	tokens      *identity.TokenIssuer
	adminSecret string
	logger      *zap.Logger
}

// NewIdentityHandler creates an IdentityHandler.
func NewIdentityHandler(registry *identity.Registry, tokens *identity.TokenIssuer, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{registry: registry, tokens: tokens, logger: logger}
}

// SetAdminSecret enables POST /admin/token. An empty secret disables it.
func (h *IdentityHandler) SetAdminSecret(secret string) {
	h.adminSecret = secret
}

// Register mounts the identity routes. Reads are public; writes need an
// admin session.
func (h *IdentityHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/admin/token", h.AdminToken)

	ids := rg.Group("/identities")
	{
		ids.GET("", h.List)
		ids.GET("/:id", h.Get)
	}

	admin := rg.Group("/identities")
	admin.Use(identity.RequireToken(h.tokens, h.registry), identity.RequireRole(h.registry, "admin"))
	{
		admin.POST("", h.Create)
		admin.PATCH("/:id/status", h.UpdateStatus)
		admin.POST("/:id/token", h.IssueToken)
	}
}

// AdminToken handles POST /admin/token. It exchanges the operator secret in
// the X-Admin-Secret header for a session token of the system identity.
func (h *IdentityHandler) AdminToken(c *gin.Context) {
	if h.adminSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin token exchange disabled"})
		return
	}
	got := c.GetHeader("X-Admin-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}
	h.respondToken(c, adminIdentity)
}

// Create handles POST /identities.
func (h *IdentityHandler) Create(c *gin.Context) {
	var req struct {
		ID    string         `json:"id"                 binding:"required"`
		Type  identity.Type  `json:"type"               binding:"required"`
		Roles []string       `json:"roles"`
		Level identity.Level `json:"verification_level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Level == "" {
		req.Level = identity.L1
	}

	ident, err := h.registry.Register(req.ID, req.Type, req.Roles, req.Level)
	if err != nil {
		writeError(c, h.logger, "register identity", err)
		return
	}
	h.logger.Info("identity registered",
		zap.String("identity_id", ident.ID),
		zap.String("type", string(ident.Type)),
		zap.String("issued_by", identity.ClaimsFromCtx(c).IdentityID),
	)
	c.JSON(http.StatusCreated, ident)
}

// List handles GET /identities.
func (h *IdentityHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identities": h.registry.List()})
}

// Get handles GET /identities/:id.
func (h *IdentityHandler) Get(c *gin.Context) {
	ident, err := h.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "get identity", err)
		return
	}
	c.JSON(http.StatusOK, ident)
}

// UpdateStatus handles PATCH /identities/:id/status.
func (h *IdentityHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status identity.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetStatus(c.Param("id"), req.Status); err != nil {
		writeError(c, h.logger, "set identity status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

// IssueToken handles POST /identities/:id/token.
func (h *IdentityHandler) IssueToken(c *gin.Context) {
	h.respondToken(c, c.Param("id"))
}

func (h *IdentityHandler) respondToken(c *gin.Context, id string) {
	ident, err := h.registry.Get(id)
	if err != nil {
		writeError(c, h.logger, "get identity", err)
		return
	}
	token, err := h.tokens.Issue(ident)
	if err != nil {
		h.logger.Error("issue token", zap.String("identity_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
	})
}
