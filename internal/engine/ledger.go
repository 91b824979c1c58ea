package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openpredict/marketd/internal/domain"
)

type account struct {
	mu      sync.Mutex
	balance float64
	created time.Time
	seen    time.Time
}

// Ledger tracks wallet balances. Wallets are provisioned lazily with the
// configured initial balance on first touch. Debit and credit are atomic
// per wallet: the balance check and the mutation happen under the same
// account lock, and a failed persistence write rolls the mutation back.
type Ledger struct {
	mu       sync.Mutex
	initial  float64
	byWallet map[string]*account

	store  domain.UserStore // optional write-through
	logger *slog.Logger
}

// NewLedger creates a ledger provisioning new wallets at initial.
func NewLedger(initial float64, store domain.UserStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		initial:  initial,
		byWallet: make(map[string]*account),
		store:    store,
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// Hydrate loads persisted accounts. Wallets found in the store are not
// considered new on subsequent balance reads.
func (l *Ledger) Hydrate(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	users, err := l.store.List(ctx)
	if err != nil {
		return fmt.Errorf("ledger: hydrate: %w", err)
	}
	l.mu.Lock()
	for _, u := range users {
		l.byWallet[u.Wallet] = &account{balance: u.Balance, created: u.CreatedAt, seen: u.LastSeen}
	}
	n := len(l.byWallet)
	l.mu.Unlock()
	l.logger.Info("ledger hydrated", slog.Int("accounts", n))
	return nil
}

// touch returns the account for wallet, provisioning it when absent.
func (l *Ledger) touch(ctx context.Context, wallet string) (*account, bool) {
	l.mu.Lock()
	acct, ok := l.byWallet[wallet]
	if !ok {
		now := time.Now().UTC()
		acct = &account{balance: l.initial, created: now, seen: now}
		l.byWallet[wallet] = acct
	}
	l.mu.Unlock()

	if !ok {
		l.persist(ctx, wallet, acct)
		l.logger.Info("wallet provisioned", slog.String("wallet", wallet), slog.Float64("balance", l.initial))
	}
	return acct, !ok
}

// Balance returns the wallet's balance, provisioning it when first seen,
// and reports whether this call created the account.
func (l *Ledger) Balance(ctx context.Context, wallet string) (float64, bool) {
	acct, isNew := l.touch(ctx, wallet)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, isNew
}

// Debit removes amount from the wallet, failing with ErrInsufficientFunds
// when the balance cannot cover it. Returns the new balance.
func (l *Ledger) Debit(ctx context.Context, wallet string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: %w: debit amount must be positive", domain.ErrValidation)
	}
	acct, _ := l.touch(ctx, wallet)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.balance < amount {
		return acct.balance, fmt.Errorf("ledger: %w: balance %.2f, need %.2f", domain.ErrInsufficientFunds, acct.balance, amount)
	}
	prev := acct.balance
	acct.balance -= amount
	acct.seen = time.Now().UTC()
	if err := l.persistLocked(ctx, wallet, acct); err != nil {
		acct.balance = prev
		return prev, fmt.Errorf("ledger: debit %s: %w", wallet, err)
	}
	return acct.balance, nil
}

// Credit adds amount to the wallet. Returns the new balance.
func (l *Ledger) Credit(ctx context.Context, wallet string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger: %w: credit amount must not be negative", domain.ErrValidation)
	}
	acct, _ := l.touch(ctx, wallet)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	prev := acct.balance
	acct.balance += amount
	acct.seen = time.Now().UTC()
	if err := l.persistLocked(ctx, wallet, acct); err != nil {
		acct.balance = prev
		return prev, fmt.Errorf("ledger: credit %s: %w", wallet, err)
	}
	return acct.balance, nil
}

func (l *Ledger) persist(ctx context.Context, wallet string, acct *account) {
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if err := l.persistLocked(ctx, wallet, acct); err != nil {
		l.logger.Warn("persist account failed", slog.String("wallet", wallet), slog.String("error", err.Error()))
	}
}

func (l *Ledger) persistLocked(ctx context.Context, wallet string, acct *account) error {
	if l.store == nil {
		return nil
	}
	return l.store.Upsert(ctx, domain.User{
		Wallet:    wallet,
		Balance:   acct.balance,
		CreatedAt: acct.created,
		LastSeen:  acct.seen,
	})
}
