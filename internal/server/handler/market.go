package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openpredict/marketd/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, m domain.Market) (domain.MarketView, error)
	Get(ctx context.Context, marketID int64) (domain.MarketView, error)
	List(ctx context.Context, status domain.MarketStatus) ([]domain.MarketView, error)
	Price(ctx context.Context, marketID int64) (domain.Quote, error)
	Resolve(ctx context.Context, marketID int64, outcome domain.Side) (domain.ResolutionSummary, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	Question    string     `json:"question"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	CreatedBy   string     `json:"created_by"`
	EndAt       *time.Time `json:"end_at"`
}

// CreateMarket opens a new market. Admin only.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.markets.Create(r.Context(), domain.Market{
		Question:    req.Question,
		Description: req.Description,
		Category:    req.Category,
		CreatedBy:   req.CreatedBy,
		EndAt:       req.EndAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Total   int                 `json:"total"`
}

// ListMarkets returns markets filtered by status (default open).
// GET /api/markets?status=open|resolved
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.markets.List(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   len(markets),
	})
}

// GetMarket returns a single market with prices and totals.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	view, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// priceResponse carries the current quote with its read timestamp.
type priceResponse struct {
	MarketID int64 `json:"market_id"`
	domain.Quote
	Timestamp time.Time `json:"timestamp"`
}

// GetPrice returns the market's current quote.
// GET /api/markets/{id}/price
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	q, err := h.markets.Price(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		MarketID:  id,
		Quote:     q,
		Timestamp: time.Now().UTC(),
	})
}

// resolveMarketRequest is the body for market resolution.
type resolveMarketRequest struct {
	Outcome domain.Side `json:"outcome"`
}

// ResolveMarket settles a market and pays out winners. Admin only.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req resolveMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := h.markets.Resolve(r.Context(), id, req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
