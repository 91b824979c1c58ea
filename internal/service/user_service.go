package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/engine"
)

// UserService exposes wallet accounts. Fetching a balance provisions the
// account on first contact.
type UserService struct {
	ledger *engine.Ledger
	logger *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(ledger *engine.Ledger, logger *slog.Logger) *UserService {
	return &UserService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// Balance returns the wallet's balance, flagging accounts seen for the
// first time so clients can show onboarding.
func (s *UserService) Balance(ctx context.Context, wallet string) (domain.Balance, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("user_service: balance: %w", err)
	}

	balance, isNew := s.ledger.Balance(ctx, wallet)
	return domain.Balance{
		Wallet:    wallet,
		Balance:   balance,
		IsNewUser: isNew,
	}, nil
}
