package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/marketd/internal/domain"
)

// UserService defines the methods the user handler requires from the
// service layer.
type UserService interface {
	Balance(ctx context.Context, wallet string) (domain.Balance, error)
}

// BetLister lists a wallet's positions with live valuations.
type BetLister interface {
	UserBets(ctx context.Context, wallet string) ([]domain.BetView, error)
}

// UserHandler serves wallet account endpoints.
type UserHandler struct {
	users  UserService
	bets   BetLister
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, bets BetLister, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		bets:   bets,
		logger: logger,
	}
}

// GetBalance returns the wallet's balance, provisioning the account on
// first contact.
// GET /api/users/{wallet}/balance
func (h *UserHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet := pathParam(r, "wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "missing wallet")
		return
	}

	balance, err := h.users.Balance(r.Context(), wallet)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// listBetsResponse wraps the bet listing output.
type listBetsResponse struct {
	Wallet string           `json:"wallet"`
	Bets   []domain.BetView `json:"bets"`
	Total  int              `json:"total"`
}

// GetBets returns the wallet's positions, newest first.
// GET /api/users/{wallet}/bets
func (h *UserHandler) GetBets(w http.ResponseWriter, r *http.Request) {
	wallet := pathParam(r, "wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "missing wallet")
		return
	}

	bets, err := h.bets.UserBets(r.Context(), wallet)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listBetsResponse{
		Wallet: wallet,
		Bets:   bets,
		Total:  len(bets),
	})
}
