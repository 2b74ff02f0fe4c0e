// Package handlers exposes the marketplace over HTTP: order posting and
// cancellation, wallet views, matching triggers, and the audit endpoints.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/ledger"
	"github.com/BraydenSmith1/kora/internal/market"
	"github.com/BraydenSmith1/kora/internal/settle"
	"github.com/BraydenSmith1/kora/internal/storage"
	"github.com/BraydenSmith1/kora/libs/auth"
	"github.com/BraydenSmith1/kora/libs/kafka"
)

// Store is the persistence surface the HTTP layer needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, email, name, regionID string) (storage.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (storage.User, error)
	CreateOffer(ctx context.Context, in storage.NewOffer) (*market.Offer, error)
	CreateRequest(ctx context.Context, in storage.NewRequest) (*market.Request, error)
	CancelOffer(ctx context.Context, id, userID uuid.UUID) (*market.Offer, error)
	CancelRequest(ctx context.Context, id, userID uuid.UUID) (*market.Request, error)
	ListOffers(ctx context.Context, regionID string, limit int32) ([]*market.Offer, error)
	ListRequests(ctx context.Context, regionID string, limit int32) ([]*market.Request, error)
	ListTrades(ctx context.Context, regionID string, userID uuid.UUID, limit int32) ([]*market.Trade, error)
	AppendEvent(ctx context.Context, eventType, refID string, payload any) (storage.Event, error)
	EventsByTypes(ctx context.Context, types []string, limit int32) ([]storage.Event, error)
	AnalyticsOverview(ctx context.Context, regionID string) (storage.Overview, error)
	Regions(ctx context.Context) ([]string, error)
}

// Wallets is the ledger surface the HTTP layer needs.
type Wallets interface {
	Balance(ctx context.Context, userID uuid.UUID) (ledger.Wallet, error)
	Credit(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) (ledger.Entry, error)
}

// Matcher triggers a matching pass for a region.
type Matcher interface {
	RunMatch(ctx context.Context, regionID string) (*settle.Summary, error)
}

type Handler struct {
	store       Store
	wallets     Wallets
	matcher     Matcher
	producer    kafka.Publisher
	ordersTopic string
	jwtSecret   []byte
	tokenTTL    time.Duration
	logger      *slog.Logger
}

func New(store Store, wallets Wallets, matcher Matcher, jwtSecret []byte, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		store:     store,
		wallets:   wallets,
		matcher:   matcher,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// WithProducer makes order posts publish to the orders topic instead of
// running the matching pass inline.
func (h *Handler) WithProducer(producer kafka.Publisher, topic string) *Handler {
	h.producer = producer
	h.ordersTopic = topic
	return h
}

func (h *Handler) Register(r *gin.Engine) {
	r.POST("/auth/dev-login", h.DevLogin)

	group := r.Group("/", auth.Middleware(h.jwtSecret))
	group.POST("/offers", h.CreateOffer)
	group.GET("/offers", h.ListOffers)
	group.DELETE("/offers/:id", h.CancelOffer)
	group.POST("/requests", h.CreateRequest)
	group.GET("/requests", h.ListRequests)
	group.DELETE("/requests/:id", h.CancelRequest)
	group.POST("/meter-readings", h.SubmitMeterReading)
	group.GET("/wallet", h.GetWallet)
	group.POST("/wallet/topup", h.TopUpWallet)
	group.GET("/settlement", h.GetSettlement)
	group.GET("/trades", h.ListTrades)
	group.POST("/match/run", h.RunMatch)
	group.GET("/reconciliation", h.GetReconciliation)
	group.GET("/receipts", h.ListReceipts)
	group.POST("/prices", h.PostPrice)
	group.GET("/prices", h.ListPrices)
	group.GET("/analytics/overview", h.GetOverview)
	group.GET("/regions", h.ListRegions)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	userID, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func regionFromContext(c *gin.Context) string {
	if val, ok := c.Get(auth.ContextRegionKey); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return uuid.Nil, false
	}
	return userID, true
}
