package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/marketd/internal/domain"
)

// StateStore implements domain.MarketStateStore using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

var _ domain.MarketStateStore = (*StateStore)(nil)

// Upsert writes the current curve state for a market.
func (s *StateStore) Upsert(ctx context.Context, st domain.MarketState) error {
	const query = `
		INSERT INTO market_state (market_id, q_yes, q_no, seq, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id) DO UPDATE SET
			q_yes      = EXCLUDED.q_yes,
			q_no       = EXCLUDED.q_no,
			seq        = EXCLUDED.seq,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, st.MarketID, st.QYes, st.QNo, int64(st.Seq), st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert state %d: %w", st.MarketID, err)
	}
	return nil
}

// Get fetches the curve state for one market.
func (s *StateStore) Get(ctx context.Context, marketID int64) (domain.MarketState, error) {
	const query = `SELECT market_id, q_yes, q_no, seq, updated_at FROM market_state WHERE market_id = $1`

	var st domain.MarketState
	var seq int64
	err := s.pool.QueryRow(ctx, query, marketID).Scan(&st.MarketID, &st.QYes, &st.QNo, &seq, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketState{}, fmt.Errorf("postgres: state %d: %w", marketID, domain.ErrNotFound)
		}
		return domain.MarketState{}, fmt.Errorf("postgres: get state %d: %w", marketID, err)
	}
	st.Seq = uint64(seq)
	return st, nil
}

// List returns curve state for every market.
func (s *StateStore) List(ctx context.Context) ([]domain.MarketState, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_id, q_yes, q_no, seq, updated_at FROM market_state`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list states: %w", err)
	}
	defer rows.Close()

	var states []domain.MarketState
	for rows.Next() {
		var st domain.MarketState
		var seq int64
		if err := rows.Scan(&st.MarketID, &st.QYes, &st.QNo, &seq, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan state: %w", err)
		}
		st.Seq = uint64(seq)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list states rows: %w", err)
	}
	return states, nil
}
