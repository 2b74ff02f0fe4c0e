package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/market"
)

type walletResponse struct {
	UserID       string `json:"user_id"`
	BalanceCents int64  `json:"balance_cents"`
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	wallet, err := h.wallets.Balance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, walletResponse{
		UserID:       userID.String(),
		BalanceCents: wallet.BalanceCents,
	})
}

type topUpRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// TopUpWallet credits a wallet out of band. Pilot deployments have no payment
// rail; operators fund wallets through this endpoint.
func (h *Handler) TopUpWallet(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	if req.AmountCents <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount_cents must be positive")
		return
	}

	entry, err := h.wallets.Credit(c.Request.Context(), userID, req.AmountCents, "topup_"+uuid.NewString())
	if err != nil {
		h.logger.Error("topup failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, walletResponse{
		UserID:       userID.String(),
		BalanceCents: entry.BalanceCents,
	})
}

type tradeItem struct {
	ID          string `json:"id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	RegionID    string `json:"region_id"`
	OfferID     string `json:"offer_id"`
	RequestID   string `json:"request_id"`
	PriceCents  int64  `json:"price_cents"`
	QuantityKwh string `json:"quantity_kwh"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func tradeToItem(t *market.Trade) tradeItem {
	return tradeItem{
		ID:          t.ID.String(),
		BuyerID:     t.BuyerID.String(),
		SellerID:    t.SellerID.String(),
		RegionID:    t.RegionID,
		OfferID:     t.OfferID.String(),
		RequestID:   t.RequestID.String(),
		PriceCents:  t.PriceCents,
		QuantityKwh: t.QuantityKwh.String(),
		AmountCents: t.AmountCents,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type settlementResponse struct {
	UserID           string      `json:"user_id"`
	BalanceCents     int64       `json:"balance_cents"`
	BoughtCents      int64       `json:"bought_cents"`
	SoldCents        int64       `json:"sold_cents"`
	NetPositionCents int64       `json:"net_position_cents"`
	Trades           []tradeItem `json:"trades"`
}

// GetSettlement is the per-user settlement view: wallet balance plus this
// user's trade history and net position. A negative balance is a valid
// amount-owed state and is reported as is.
func (h *Handler) GetSettlement(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	wallet, err := h.wallets.Balance(ctx, userID)
	if err != nil {
		h.logger.Error("balance lookup failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	trades, err := h.store.ListTrades(ctx, "", userID, maxListLimit)
	if err != nil {
		h.logger.Error("list trades failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	resp := settlementResponse{
		UserID:       userID.String(),
		BalanceCents: wallet.BalanceCents,
		Trades:       make([]tradeItem, 0, len(trades)),
	}
	for _, trade := range trades {
		if trade.BuyerID == userID {
			resp.BoughtCents += trade.AmountCents
		}
		if trade.SellerID == userID {
			resp.SoldCents += trade.AmountCents
		}
		resp.Trades = append(resp.Trades, tradeToItem(trade))
	}
	resp.NetPositionCents = resp.SoldCents - resp.BoughtCents

	c.JSON(http.StatusOK, resp)
}
