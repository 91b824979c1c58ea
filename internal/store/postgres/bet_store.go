package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/marketd/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

var _ domain.BetStore = (*BetStore)(nil)

const betCols = `id, market_id, wallet, side, amount, shares, avg_price, status, result, payout, profit, seq, created_at, updated_at`

// Create inserts a new bet.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (` + betCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.MarketID, b.Wallet, string(b.Side),
		b.Amount, b.Shares, b.AvgPrice,
		string(b.Status), string(b.Result), b.Payout, b.Profit,
		int64(b.Seq), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}
	return nil
}

// Update rewrites a bet's mutable fields.
func (s *BetStore) Update(ctx context.Context, b domain.Bet) error {
	const query = `
		UPDATE bets SET
			amount = $2, shares = $3, avg_price = $4,
			status = $5, result = $6, payout = $7, profit = $8, updated_at = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		b.ID, b.Amount, b.Shares, b.AvgPrice,
		string(b.Status), string(b.Result), b.Payout, b.Profit, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single bet.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	const query = `SELECT ` + betCols + ` FROM bets WHERE id = $1`
	b, err := scanBet(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, fmt.Errorf("postgres: bet %s: %w", id, domain.ErrNotFound)
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// ListOpen returns every open bet across all markets, oldest first. Used
// to rebuild the in-memory position registry at startup.
func (s *BetStore) ListOpen(ctx context.Context) ([]domain.Bet, error) {
	const query = `SELECT ` + betCols + ` FROM bets WHERE status = 'open' ORDER BY created_at ASC`
	return s.list(ctx, query)
}

// ListByMarket returns bets on a market, newest first.
func (s *BetStore) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE market_id = $1 ORDER BY created_at DESC`
	args := []any{marketID}
	query, args = paginate(query, args, opts)
	return s.list(ctx, query, args...)
}

// ListByWallet returns a wallet's bets, newest first.
func (s *BetStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE wallet = $1 ORDER BY created_at DESC`
	args := []any{wallet}
	query, args = paginate(query, args, opts)
	return s.list(ctx, query, args...)
}

// TotalsByMarket aggregates open positions on a market.
func (s *BetStore) TotalsByMarket(ctx context.Context, marketID int64) (domain.MarketTotals, error) {
	const query = `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE side = 'YES'), 0),
			COALESCE(SUM(amount) FILTER (WHERE side = 'NO'), 0),
			COUNT(*),
			COALESCE(SUM(amount), 0)
		FROM bets WHERE market_id = $1 AND status = 'open'`

	var t domain.MarketTotals
	err := s.pool.QueryRow(ctx, query, marketID).Scan(&t.TotalYes, &t.TotalNo, &t.BetCount, &t.TotalPool)
	if err != nil {
		return domain.MarketTotals{}, fmt.Errorf("postgres: totals for market %d: %w", marketID, err)
	}
	return t, nil
}

func (s *BetStore) list(ctx context.Context, query string, args ...any) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}
	return query, args
}

// scanBet scans a single bet row into a domain.Bet.
func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	var side, status, result string
	var seq int64
	err := row.Scan(
		&b.ID, &b.MarketID, &b.Wallet, &side,
		&b.Amount, &b.Shares, &b.AvgPrice,
		&status, &result, &b.Payout, &b.Profit,
		&seq, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}
	b.Side = domain.Side(side)
	b.Status = domain.BetStatus(status)
	b.Result = domain.BetResult(result)
	b.Seq = uint64(seq)
	return b, nil
}
