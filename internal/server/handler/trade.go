package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/marketd/internal/domain"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	Submit(ctx context.Context, req domain.TradeRequest) (domain.TradeRequest, error)
	Poll(ctx context.Context, requestID string) (domain.TradeResult, error)
	Preview(ctx context.Context, marketID int64, side domain.Side, amount float64) (domain.TradePreview, error)
}

// TradeHandler serves trade submission, polling and preview endpoints.
// Submissions are acknowledged with 202 and a request ID; callers poll
// the trades endpoint for the outcome.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// placeBetRequest is the body for buy submission.
type placeBetRequest struct {
	Wallet string      `json:"wallet"`
	Side   domain.Side `json:"side"`
	Amount float64     `json:"amount"`
}

// sellSharesRequest is the body for sell submission.
type sellSharesRequest struct {
	Wallet string      `json:"wallet"`
	Side   domain.Side `json:"side"`
	Shares float64     `json:"shares"`
}

// undoBetRequest is the body for undo submission.
type undoBetRequest struct {
	Wallet string `json:"wallet"`
}

// previewRequest is the body for a buy preview.
type previewRequest struct {
	Side   domain.Side `json:"side"`
	Amount float64     `json:"amount"`
}

// acceptedResponse acknowledges a queued trade.
type acceptedResponse struct {
	RequestID     string             `json:"request_id"`
	Status        domain.TradeStatus `json:"status"`
	QueuePosition int                `json:"queue_position"`
}

// PlaceBet queues a buy on a market.
// POST /api/markets/{id}/bets
func (h *TradeHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.submit(w, r, domain.TradeRequest{
		Kind:     domain.TradeKindBuy,
		Wallet:   req.Wallet,
		MarketID: marketID,
		Side:     req.Side,
		Amount:   req.Amount,
	})
}

// SellShares queues a sell on a market.
// POST /api/markets/{id}/sells
func (h *TradeHandler) SellShares(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req sellSharesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.submit(w, r, domain.TradeRequest{
		Kind:     domain.TradeKindSell,
		Wallet:   req.Wallet,
		MarketID: marketID,
		Side:     req.Side,
		Shares:   req.Shares,
	})
}

// UndoBet queues an undo of a specific bet.
// POST /api/bets/{id}/undo
func (h *TradeHandler) UndoBet(w http.ResponseWriter, r *http.Request) {
	betID := pathParam(r, "id")
	if betID == "" {
		writeError(w, http.StatusBadRequest, "missing bet id")
		return
	}

	var req undoBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.submit(w, r, domain.TradeRequest{
		Kind:   domain.TradeKindUndo,
		Wallet: req.Wallet,
		BetID:  betID,
	})
}

func (h *TradeHandler) submit(w http.ResponseWriter, r *http.Request, req domain.TradeRequest) {
	accepted, err := h.trades.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		RequestID:     accepted.ID,
		Status:        domain.TradeStatusQueued,
		QueuePosition: accepted.QueuePos,
	})
}

// PollTrade returns the current state of a submitted request.
// GET /api/trades/{requestID}
func (h *TradeHandler) PollTrade(w http.ResponseWriter, r *http.Request) {
	requestID := pathParam(r, "requestID")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "missing request id")
		return
	}

	res, err := h.trades.Poll(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// PreviewTrade quotes a buy without executing it.
// POST /api/markets/{id}/preview
func (h *TradeHandler) PreviewTrade(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	preview, err := h.trades.Preview(r.Context(), marketID, req.Side, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}
