package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sonicalchemy/studio/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only HTTP endpoints for the token ledger.
type LedgerHandler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(svc *ledger.Service, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: svc, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/rails", h.Rails)
	rg.GET("/tokens/:id", h.Token)
	rg.GET("/balances/:account", h.Balance)
	rg.GET("/transactions", h.Transactions)

	l := rg.Group("/ledger")
	{
		l.GET("/entries", h.Entries)
		l.GET("/verify", h.Verify)
	}
}

// Rails handles GET /rails: lists the active settlement rails.
func (h *LedgerHandler) Rails(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rails": h.ledger.ActiveRails()})
}

// Token handles GET /tokens/:id: returns token metadata and circulation.
func (h *LedgerHandler) Token(c *gin.Context) {
	ctx := c.Request.Context()

	tok, err := h.ledger.Token(ctx, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "get token", err)
		return
	}
	circ, err := h.ledger.Circulating(ctx, tok.ID)
	if err != nil {
		writeError(c, h.logger, "circulating supply", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "circulating": circ})
}

// Balance handles GET /balances/:account?token=: one balance, or every
// holding when no token is given.
func (h *LedgerHandler) Balance(c *gin.Context) {
	ctx := c.Request.Context()
	account := c.Param("account")

	if tokenID := c.Query("token"); tokenID != "" {
		amount, err := h.ledger.Balance(ctx, account, tokenID)
		if err != nil {
			writeError(c, h.logger, "get balance", err)
			return
		}
		c.JSON(http.StatusOK, ledger.Balance{AccountID: account, TokenID: tokenID, Amount: amount})
		return
	}

	balances, err := h.ledger.Balances(ctx, account)
	if err != nil {
		writeError(c, h.logger, "list balances", err)
		return
	}
	if balances == nil {
		balances = []ledger.Balance{}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account, "balances": balances})
}

// Transactions handles GET /transactions?account=: newest first.
func (h *LedgerHandler) Transactions(c *gin.Context) {
	txs, err := h.ledger.Transactions(c.Request.Context(), c.Query("account"))
	if err != nil {
		writeError(c, h.logger, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Entries handles GET /ledger/entries: the full ledger chain.
func (h *LedgerHandler) Entries(c *gin.Context) {
	entries, err := h.ledger.Entries(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "list ledger entries", err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Verify handles GET /ledger/verify: walks the ledger chain and reports
// integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	if err := h.ledger.VerifyEntries(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
