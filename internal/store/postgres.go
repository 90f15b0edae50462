package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/position"
)

// executor is the subset of pgx that both *pgxpool.Pool and pgx.Tx
// satisfy, letting every query method below run unmodified against
// either the pool or an open transaction.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store against PostgreSQL, the source of
// truth. All monetary decimals round-trip as NUMERIC cast to TEXT to
// avoid pgx's driver-level float handling.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   executor
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// BeginTx starts a serializable transaction and returns a Tx whose
// methods all run against it.
func (s *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("postgres store: begin tx: %w", err)
	}
	return &pgxTx{PostgresStore: &PostgresStore{pool: s.pool, db: tx}, tx: tx}, nil
}

type pgxTx struct {
	*PostgresStore
	tx pgx.Tx
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// --- ledger.Store ---

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	var bal model.Balance
	var available, reserved string
	err := s.db.QueryRow(ctx,
		`SELECT user_id, available::TEXT, reserved::TEXT FROM balances WHERE user_id = $1`, userID,
	).Scan(&bal.UserID, &available, &reserved)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Balance{}, fmt.Errorf("postgres store: %w: balance for %s", ErrNotFound, userID)
		}
		return model.Balance{}, err
	}
	bal.Available, _ = decimal.NewFromString(available)
	bal.Reserved, _ = decimal.NewFromString(reserved)
	return bal, nil
}

func (s *PostgresStore) PutBalance(ctx context.Context, bal model.Balance) error {
	_, err := s.db.Exec(ctx,
		`UPDATE balances SET available = $2::NUMERIC, reserved = $3::NUMERIC WHERE user_id = $1`,
		bal.UserID, bal.Available.String(), bal.Reserved.String(),
	)
	return err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, delta_available, delta_reserved, reason, ref_type, ref_id, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.DeltaAvailable.String(), e.DeltaReserved.String(), string(e.Reason), e.Ref.Type, e.Ref.ID, e.CreatedAt,
	)
	return err
}

// --- position.Store ---

func (s *PostgresStore) GetPosition(ctx context.Context, key position.Key) (model.Position, error) {
	var pos model.Position
	var shares, reservedShares, avgPrice string
	err := s.db.QueryRow(ctx,
		`SELECT user_id, market_id, outcome, shares::TEXT, reserved_shares::TEXT, avg_price::TEXT
		 FROM positions WHERE user_id = $1 AND market_id = $2 AND outcome = $3`,
		key.UserID, key.MarketID, string(key.Outcome),
	).Scan(&pos.UserID, &pos.MarketID, &pos.Outcome, &shares, &reservedShares, &avgPrice)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Position{}, nil
		}
		return model.Position{}, err
	}
	pos.Shares, _ = decimal.NewFromString(shares)
	pos.ReservedShares, _ = decimal.NewFromString(reservedShares)
	pos.AvgPrice, _ = decimal.NewFromString(avgPrice)
	return pos, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, pos model.Position) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, outcome, shares, reserved_shares, avg_price)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (user_id, market_id, outcome)
		 DO UPDATE SET shares = $4::NUMERIC, reserved_shares = $5::NUMERIC, avg_price = $6::NUMERIC`,
		pos.UserID, pos.MarketID, string(pos.Outcome), pos.Shares.String(), pos.ReservedShares.String(), pos.AvgPrice.String(),
	)
	return err
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, market_id, outcome, shares::TEXT, reserved_shares::TEXT, avg_price::TEXT
		 FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var pos model.Position
		var shares, reservedShares, avgPrice string
		if err := rows.Scan(&pos.UserID, &pos.MarketID, &pos.Outcome, &shares, &reservedShares, &avgPrice); err != nil {
			return nil, err
		}
		pos.Shares, _ = decimal.NewFromString(shares)
		pos.ReservedShares, _ = decimal.NewFromString(reservedShares)
		pos.AvgPrice, _ = decimal.NewFromString(avgPrice)
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, market_id, outcome, shares::TEXT, reserved_shares::TEXT, avg_price::TEXT
		 FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var pos model.Position
		var shares, reservedShares, avgPrice string
		if err := rows.Scan(&pos.UserID, &pos.MarketID, &pos.Outcome, &shares, &reservedShares, &avgPrice); err != nil {
			return nil, err
		}
		pos.Shares, _ = decimal.NewFromString(shares)
		pos.ReservedShares, _ = decimal.NewFromString(reservedShares)
		pos.AvgPrice, _ = decimal.NewFromString(avgPrice)
		out = append(out, pos)
	}
	return out, rows.Err()
}

// --- MarketStore ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m model.Market) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO markets (id, question, status, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Question, string(m.Status), m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (model.Market, error) {
	var m model.Market
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT id, question, status, created_at FROM markets WHERE id = $1`, id,
	).Scan(&m.ID, &m.Question, &status, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Market{}, fmt.Errorf("postgres store: %w: market %s", ErrNotFound, id)
		}
		return model.Market{}, err
	}
	m.Status = model.MarketStatus(status)
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.Query(ctx, `SELECT id, question, status, created_at FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Market
	for rows.Next() {
		var m model.Market
		var status string
		if err := rows.Scan(&m.ID, &m.Question, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = model.MarketStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	_, err := s.db.Exec(ctx, `UPDATE markets SET status = $2 WHERE id = $1`, id, string(status))
	return err
}

func (s *PostgresStore) PutMarketResolution(ctx context.Context, res model.MarketResolution) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO market_resolutions (market_id, winning_outcome, resolved_at, resolver_user_id)
		 VALUES ($1, $2, $3, $4)`,
		res.MarketID, string(res.WinningOutcome), res.ResolvedAt, res.ResolverUserID,
	)
	return err
}

// --- OrderStore ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o model.Order) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO orders (id, user_id, market_id, outcome, side, price, quantity, remaining, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		o.ID, o.UserID, o.MarketID, string(o.Outcome), string(o.Side),
		o.Price.String(), o.Quantity.String(), o.Remaining.String(), string(o.Status), o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return scanOneOrder(s.db.QueryRow(ctx, orderSelectSQL+` WHERE id = $1`, id))
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o model.Order) error {
	_, err := s.db.Exec(ctx,
		`UPDATE orders SET remaining = $2::NUMERIC, status = $3 WHERE id = $1`,
		o.ID, o.Remaining.String(), string(o.Status),
	)
	return err
}

func (s *PostgresStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, orderSelectSQL+` WHERE market_id = $1 AND status IN ('OPEN', 'PARTIAL') ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListOpenOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, orderSelectSQL+` WHERE user_id = $1 AND status IN ('OPEN', 'PARTIAL') ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, orderSelectSQL+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

const orderSelectSQL = `SELECT id, user_id, market_id, outcome, side, price::TEXT, quantity::TEXT, remaining::TEXT, status, created_at FROM orders`

func scanOneOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var outcome, side, status, price, qty, remaining string
	err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &outcome, &side, &price, &qty, &remaining, &status, &o.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Order{}, fmt.Errorf("postgres store: %w: order", ErrNotFound)
		}
		return model.Order{}, err
	}
	return finishOrderScan(o, outcome, side, status, price, qty, remaining), nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		var o model.Order
		var outcome, side, status, price, qty, remaining string
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &outcome, &side, &price, &qty, &remaining, &status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, finishOrderScan(o, outcome, side, status, price, qty, remaining))
	}
	return out, rows.Err()
}

func finishOrderScan(o model.Order, outcome, side, status, price, qty, remaining string) model.Order {
	o.Outcome = model.Outcome(outcome)
	o.Side = model.Side(side)
	o.Status = model.OrderStatus(status)
	o.Price, _ = decimal.NewFromString(price)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.Remaining, _ = decimal.NewFromString(remaining)
	return o
}

// --- TradeStore ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t model.Trade) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trades (id, market_id, outcome, price, quantity, maker_order_id, taker_order_id, maker_user_id, taker_user_id, taker_fee, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10::NUMERIC, $11)`,
		t.ID, t.MarketID, string(t.Outcome), t.Price.String(), t.Quantity.String(),
		t.MakerOrderID, t.TakerOrderID, t.MakerUserID, t.TakerUserID, t.TakerFee.String(), t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, market_id, outcome, price::TEXT, quantity::TEXT, maker_order_id, taker_order_id, maker_user_id, taker_user_id, taker_fee::TEXT, created_at
		 FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var outcome, price, qty, fee string
		if err := rows.Scan(&t.ID, &t.MarketID, &outcome, &price, &qty, &t.MakerOrderID, &t.TakerOrderID, &t.MakerUserID, &t.TakerUserID, &fee, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Outcome = model.Outcome(outcome)
		t.Price, _ = decimal.NewFromString(price)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.TakerFee, _ = decimal.NewFromString(fee)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RegisterUser inserts userID's zero-valued balance row exactly once.
func (s *PostgresStore) RegisterUser(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO balances (user_id, available, reserved) VALUES ($1, 0, 0) ON CONFLICT DO NOTHING`, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}
