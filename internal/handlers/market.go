package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/notary"
	"github.com/BraydenSmith1/kora/internal/settle"
	"github.com/BraydenSmith1/kora/internal/storage"
)

const priceUpdateEventType = "PRICE_UPDATE"

func (h *Handler) ListTrades(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}

	filterUser := uuid.Nil
	if c.Query("mine") == "true" {
		filterUser = userID
	}
	trades, err := h.store.ListTrades(c.Request.Context(), strings.TrimSpace(c.Query("region_id")), filterUser, limit)
	if err != nil {
		h.logger.Error("list trades failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]tradeItem, 0, len(trades))
	for _, trade := range trades {
		items = append(items, tradeToItem(trade))
	}
	c.JSON(http.StatusOK, gin.H{"trades": items})
}

type runMatchRequest struct {
	RegionID string `json:"region_id"`
}

// RunMatch triggers an on-demand matching pass. Also invoked implicitly
// whenever an order is posted.
func (h *Handler) RunMatch(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}

	var req runMatchRequest
	// An empty body is fine; the region then comes from the token.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	regionID := h.resolveRegion(c, req.RegionID)
	if regionID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "region_id is required")
		return
	}

	summary, err := h.matcher.RunMatch(c.Request.Context(), regionID)
	if err != nil {
		if errors.Is(err, settle.ErrRegionBusy) {
			writeError(c, http.StatusConflict, "REGION_BUSY", "matching pass already running")
			return
		}
		h.logger.Error("matching pass failed", "region_id", regionID, "error", err)
		writeError(c, http.StatusInternalServerError, "MATCH_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetReconciliation(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}

	report, err := settle.Reconcile(c.Request.Context(), h.store, limit)
	if err != nil {
		h.logger.Error("reconciliation failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, report)
}

type eventItem struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	RefID     string          `json:"ref_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

func eventToItem(ev storage.Event) eventItem {
	return eventItem{
		ID:        ev.ID.String(),
		EventType: ev.EventType,
		RefID:     ev.RefID,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func eventsToItems(events []storage.Event) []eventItem {
	items := make([]eventItem, 0, len(events))
	for _, ev := range events {
		items = append(items, eventToItem(ev))
	}
	return items
}

func (h *Handler) ListReceipts(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}

	types := []string{notary.EventChainReceipt, notary.EventChainReceiptMock, notary.EventChainError}
	events, err := h.store.EventsByTypes(c.Request.Context(), types, limit)
	if err != nil {
		h.logger.Error("list receipts failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": eventsToItems(events)})
}

type postPriceRequest struct {
	RegionID   string `json:"region_id"`
	PriceCents int64  `json:"price_cents"`
}

// PostPrice records a regional reference price. Prices are advisory for
// participants; matching always executes at the offer's posted price.
func (h *Handler) PostPrice(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req postPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	regionID := h.resolveRegion(c, req.RegionID)
	if regionID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "region_id is required")
		return
	}
	if req.PriceCents <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "price_cents must be positive")
		return
	}

	event, err := h.store.AppendEvent(c.Request.Context(), priceUpdateEventType, regionID, map[string]any{
		"regionId":   regionID,
		"priceCents": req.PriceCents,
		"updatedBy":  userID.String(),
		"timestamp":  time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("post price failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusCreated, eventToItem(event))
}

func (h *Handler) ListPrices(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}

	events, err := h.store.EventsByTypes(c.Request.Context(), []string{priceUpdateEventType}, limit)
	if err != nil {
		h.logger.Error("list prices failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": eventsToItems(events)})
}

func (h *Handler) GetOverview(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}

	overview, err := h.store.AnalyticsOverview(c.Request.Context(), strings.TrimSpace(c.Query("region_id")))
	if err != nil {
		h.logger.Error("analytics overview failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	resp := gin.H{
		"region_id":           overview.RegionID,
		"open_offers":         overview.OpenOffers,
		"open_requests":       overview.OpenRequests,
		"executed_trades":     overview.ExecutedTrades,
		"traded_kwh":          overview.TradedKwh.String(),
		"traded_amount_cents": overview.TradedAmountCents,
	}
	if overview.LastTradeAt != nil {
		resp["last_trade_at"] = overview.LastTradeAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListRegions(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}

	regions, err := h.store.Regions(c.Request.Context())
	if err != nil {
		h.logger.Error("list regions failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if regions == nil {
		regions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"regions": regions})
}
