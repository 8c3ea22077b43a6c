package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sonicalchemy/studio/internal/audit"
	"go.uber.org/zap"
)

// AuditHandler exposes read-only HTTP endpoints for the audit chain.
type AuditHandler struct {
	chain  audit.Chain
	keys   audit.KeyLookup
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. keys resolves signer public
// keys for signature verification.
func NewAuditHandler(chain audit.Chain, keys audit.KeyLookup, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{chain: chain, keys: keys, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.List)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// List handles GET /audit: every entry oldest first, or newest first with
// ?order=desc.
func (h *AuditHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	entries, err := h.chain.List(ctx)
	if err != nil {
		h.logger.Error("audit List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit chain"})
		return
	}
	root, err := h.chain.Root(ctx)
	if err != nil {
		h.logger.Error("audit Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit root"})
		return
	}

	switch c.DefaultQuery("order", "asc") {
	case "asc":
	case "desc":
		entries = audit.Reversed(entries)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
		"root":    root,
	})
}

// Verify handles GET /audit/verify: walks the full chain and checks every
// hash, link and signature.
func (h *AuditHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.chain.Verify(ctx); err != nil {
		h.logger.Warn("audit chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	if err := h.chain.VerifySignatures(ctx, h.keys); err != nil {
		h.logger.Warn("audit chain signature check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /audit/entries/:idx: returns a single entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.chain.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
