package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BraydenSmith1/kora/internal/market"
	"github.com/BraydenSmith1/kora/internal/settle"
	"github.com/BraydenSmith1/kora/internal/storage"
	"github.com/BraydenSmith1/kora/libs/kafka"
)

const (
	orderPostedEventType = "orders.posted"
	orderPostedVersion   = 1

	meterReadingEventType = "METER_READING"

	defaultListLimit = 100
	maxListLimit     = 500
)

type createOfferRequest struct {
	PriceCents  int64  `json:"price_cents"`
	QuantityKwh string `json:"quantity_kwh"`
	RegionID    string `json:"region_id"`
}

type createRequestRequest struct {
	MaxPriceCents int64  `json:"max_price_cents"`
	QuantityKwh   string `json:"quantity_kwh"`
	RegionID      string `json:"region_id"`
}

type offerItem struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	RegionID    string `json:"region_id"`
	PriceCents  int64  `json:"price_cents"`
	QuantityKwh string `json:"quantity_kwh"`
	FilledKwh   string `json:"filled_kwh"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type requestItem struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	RegionID      string `json:"region_id"`
	MaxPriceCents int64  `json:"max_price_cents"`
	QuantityKwh   string `json:"quantity_kwh"`
	FilledKwh     string `json:"filled_kwh"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

func offerToItem(o *market.Offer) offerItem {
	return offerItem{
		ID:          o.ID.String(),
		UserID:      o.UserID.String(),
		RegionID:    o.RegionID,
		PriceCents:  o.PriceCents,
		QuantityKwh: o.QuantityKwh.String(),
		FilledKwh:   o.FilledKwh.String(),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func requestToItem(r *market.Request) requestItem {
	return requestItem{
		ID:            r.ID.String(),
		UserID:        r.UserID.String(),
		RegionID:      r.RegionID,
		MaxPriceCents: r.MaxPriceCents,
		QuantityKwh:   r.QuantityKwh.String(),
		FilledKwh:     r.FilledKwh.String(),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) CreateOffer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	regionID := h.resolveRegion(c, req.RegionID)
	if regionID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "region_id is required")
		return
	}
	qty, err := parseQuantity(req.QuantityKwh)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.PriceCents <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "price_cents must be positive")
		return
	}

	offer, err := h.store.CreateOffer(c.Request.Context(), storage.NewOffer{
		UserID:      userID,
		RegionID:    regionID,
		PriceCents:  req.PriceCents,
		QuantityKwh: qty,
	})
	if err != nil {
		h.logger.Error("create offer failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	h.afterOrderPosted(c.Request.Context(), "offer", offer.ID, regionID, userID)
	c.JSON(http.StatusCreated, offerToItem(offer))
}

func (h *Handler) CreateRequest(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	regionID := h.resolveRegion(c, req.RegionID)
	if regionID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "region_id is required")
		return
	}
	qty, err := parseQuantity(req.QuantityKwh)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.MaxPriceCents <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "max_price_cents must be positive")
		return
	}

	request, err := h.store.CreateRequest(c.Request.Context(), storage.NewRequest{
		UserID:        userID,
		RegionID:      regionID,
		MaxPriceCents: req.MaxPriceCents,
		QuantityKwh:   qty,
	})
	if err != nil {
		h.logger.Error("create request failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	h.afterOrderPosted(c.Request.Context(), "request", request.ID, regionID, userID)
	c.JSON(http.StatusCreated, requestToItem(request))
}

func (h *Handler) ListOffers(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}

	offers, err := h.store.ListOffers(c.Request.Context(), strings.TrimSpace(c.Query("region_id")), limit)
	if err != nil {
		h.logger.Error("list offers failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]offerItem, 0, len(offers))
	for _, offer := range offers {
		items = append(items, offerToItem(offer))
	}
	c.JSON(http.StatusOK, gin.H{"offers": items})
}

func (h *Handler) ListRequests(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}

	requests, err := h.store.ListRequests(c.Request.Context(), strings.TrimSpace(c.Query("region_id")), limit)
	if err != nil {
		h.logger.Error("list requests failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]requestItem, 0, len(requests))
	for _, request := range requests {
		items = append(items, requestToItem(request))
	}
	c.JSON(http.StatusOK, gin.H{"requests": items})
}

func (h *Handler) CancelOffer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	offerID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid offer id")
		return
	}

	offer, err := h.store.CancelOffer(c.Request.Context(), offerID, userID)
	if err != nil {
		h.writeCancelError(c, err, "offer")
		return
	}
	c.JSON(http.StatusOK, offerToItem(offer))
}

func (h *Handler) CancelRequest(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	requestID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request id")
		return
	}

	request, err := h.store.CancelRequest(c.Request.Context(), requestID, userID)
	if err != nil {
		h.writeCancelError(c, err, "request")
		return
	}
	c.JSON(http.StatusOK, requestToItem(request))
}

type meterReadingRequest struct {
	RegionID      string `json:"region_id"`
	SurplusKwh    string `json:"surplus_kwh"`
	DemandKwh     string `json:"demand_kwh"`
	PriceCents    int64  `json:"price_cents"`
	MaxPriceCents int64  `json:"max_price_cents"`
}

type meterReadingResponse struct {
	Offer   *offerItem   `json:"offer,omitempty"`
	Request *requestItem `json:"request,omitempty"`
}

// SubmitMeterReading converts a smart-meter report into marketplace orders:
// surplus energy becomes an offer, unmet demand becomes a request. Either
// side may be zero.
func (h *Handler) SubmitMeterReading(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req meterReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	regionID := h.resolveRegion(c, req.RegionID)
	if regionID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "region_id is required")
		return
	}

	var resp meterReadingResponse
	ctx := c.Request.Context()

	if strings.TrimSpace(req.SurplusKwh) != "" {
		surplus, err := parseQuantity(req.SurplusKwh)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid surplus_kwh")
			return
		}
		if req.PriceCents <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "price_cents required for surplus")
			return
		}
		offer, err := h.store.CreateOffer(ctx, storage.NewOffer{
			UserID:      userID,
			RegionID:    regionID,
			PriceCents:  req.PriceCents,
			QuantityKwh: surplus,
		})
		if err != nil {
			h.logger.Error("meter surplus offer failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
		item := offerToItem(offer)
		resp.Offer = &item
		h.afterOrderPosted(ctx, "offer", offer.ID, regionID, userID)
	}

	if strings.TrimSpace(req.DemandKwh) != "" {
		demand, err := parseQuantity(req.DemandKwh)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid demand_kwh")
			return
		}
		if req.MaxPriceCents <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "max_price_cents required for demand")
			return
		}
		request, err := h.store.CreateRequest(ctx, storage.NewRequest{
			UserID:        userID,
			RegionID:      regionID,
			MaxPriceCents: req.MaxPriceCents,
			QuantityKwh:   demand,
		})
		if err != nil {
			h.logger.Error("meter demand request failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
		item := requestToItem(request)
		resp.Request = &item
		h.afterOrderPosted(ctx, "request", request.ID, regionID, userID)
	}

	if resp.Offer == nil && resp.Request == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "reading carried no surplus or demand")
		return
	}

	if _, err := h.store.AppendEvent(ctx, meterReadingEventType, userID.String(), map[string]any{
		"userId":     userID.String(),
		"regionId":   regionID,
		"surplusKwh": strings.TrimSpace(req.SurplusKwh),
		"demandKwh":  strings.TrimSpace(req.DemandKwh),
		"timestamp":  time.Now().UTC(),
	}); err != nil {
		h.logger.Error("append meter reading event failed", "error", err)
	}
	c.JSON(http.StatusCreated, resp)
}

type orderPostedEvent struct {
	kafka.Envelope
	OrderID  string `json:"order_id"`
	Kind     string `json:"kind"`
	RegionID string `json:"region_id"`
	UserID   string `json:"user_id"`
}

// afterOrderPosted triggers matching for the order's region: through the
// orders topic when a producer is wired, otherwise inline. Failures are
// logged, never surfaced; the posted order is already durable.
func (h *Handler) afterOrderPosted(ctx context.Context, kind string, orderID uuid.UUID, regionID string, userID uuid.UUID) {
	if h.producer != nil && h.ordersTopic != "" {
		envelope, err := kafka.NewEnvelope(orderPostedEventType, orderPostedVersion, orderID.String())
		if err != nil {
			h.logger.Error("build order event envelope", "order_id", orderID, "error", err)
			return
		}
		event := orderPostedEvent{
			Envelope: envelope,
			OrderID:  orderID.String(),
			Kind:     kind,
			RegionID: regionID,
			UserID:   userID.String(),
		}
		if _, _, err := h.producer.PublishJSON(ctx, h.ordersTopic, regionID, event); err != nil {
			h.logger.Error("publish order posted event", "order_id", orderID, "error", err)
		}
		return
	}

	if h.matcher == nil {
		return
	}
	if _, err := h.matcher.RunMatch(ctx, regionID); err != nil {
		// A busy region is normal: the in-flight pass picks the order up on
		// the next trigger.
		if errors.Is(err, settle.ErrRegionBusy) {
			return
		}
		h.logger.Error("post-order matching pass failed", "region_id", regionID, "error", err)
	}
}

func (h *Handler) resolveRegion(c *gin.Context, requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	return regionFromContext(c)
}

func (h *Handler) writeCancelError(c *gin.Context, err error, kind string) {
	switch {
	case errors.Is(err, storage.ErrOfferNotFound), errors.Is(err, storage.ErrRequestNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", kind+" not found")
	case errors.Is(err, storage.ErrNotOwner):
		writeError(c, http.StatusForbidden, "FORBIDDEN", kind+" belongs to another user")
	case errors.Is(err, storage.ErrOrderNotOpen):
		writeError(c, http.StatusConflict, "NOT_OPEN", kind+" is not open")
	default:
		h.logger.Error("cancel "+kind+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseQuantity(value string) (decimal.Decimal, error) {
	qty, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, errors.New("invalid quantity_kwh")
	}
	if qty.Sign() <= 0 {
		return decimal.Zero, errors.New("quantity_kwh must be positive")
	}
	return qty, nil
}

func parseLimit(value string) (int32, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return int32(n), nil
}
