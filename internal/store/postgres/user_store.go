package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/marketd/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

var _ domain.UserStore = (*UserStore)(nil)

// Upsert inserts or updates a wallet account.
func (s *UserStore) Upsert(ctx context.Context, u domain.User) error {
	const query = `
		INSERT INTO users (wallet, balance, created_at, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet) DO UPDATE SET
			balance   = EXCLUDED.balance,
			last_seen = EXCLUDED.last_seen`

	_, err := s.pool.Exec(ctx, query, u.Wallet, u.Balance, u.CreatedAt, u.LastSeen)
	if err != nil {
		return fmt.Errorf("postgres: upsert user %s: %w", u.Wallet, err)
	}
	return nil
}

// Get fetches a wallet account.
func (s *UserStore) Get(ctx context.Context, wallet string) (domain.User, error) {
	const query = `SELECT wallet, balance, created_at, last_seen FROM users WHERE wallet = $1`

	var u domain.User
	err := s.pool.QueryRow(ctx, query, wallet).Scan(&u.Wallet, &u.Balance, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("postgres: user %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", wallet, err)
	}
	return u, nil
}

// List returns every wallet account.
func (s *UserStore) List(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT wallet, balance, created_at, last_seen FROM users`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Wallet, &u.Balance, &u.CreatedAt, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list users rows: %w", err)
	}
	return users, nil
}
