// Package sqlstore is a modernc.org/sqlite-backed store.Store. Grounded
// on stadam23-Eve-flipper/internal/db's sql.Open + manual
// schema_version migration table pattern, adapted to this module's
// accounts/positions/orders/trades/ledger_entries/wal_events/markets
// schema. Every store.Tx call runs inside one *sql.Tx; guarded writes
// (freeze, debit, ...) fold their check into the UPDATE's WHERE clause
// and read store.ErrGuardFailed off a zero-row RowsAffected, since
// database/sql's driver-neutral API gives no portable RETURNING guard.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/store"
)

// Store opens transactions against a single *sql.DB.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer: sqlite serializes writers anyway
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	var version int
	s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS accounts (
				user_id              TEXT PRIMARY KEY,
				available_cents      INTEGER NOT NULL DEFAULT 0,
				frozen_cents         INTEGER NOT NULL DEFAULT 0,
				version              INTEGER NOT NULL DEFAULT 0,
				auto_netting_enabled INTEGER NOT NULL DEFAULT 1,
				created_at           TEXT NOT NULL,
				updated_at           TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS positions (
				user_id           TEXT NOT NULL,
				market_id         TEXT NOT NULL,
				yes_volume        INTEGER NOT NULL DEFAULT 0,
				yes_cost_sum      INTEGER NOT NULL DEFAULT 0,
				yes_pending_sell  INTEGER NOT NULL DEFAULT 0,
				no_volume         INTEGER NOT NULL DEFAULT 0,
				no_cost_sum       INTEGER NOT NULL DEFAULT 0,
				no_pending_sell   INTEGER NOT NULL DEFAULT 0,
				created_at        TEXT NOT NULL,
				updated_at        TEXT NOT NULL,
				PRIMARY KEY (user_id, market_id)
			);
			CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market_id);

			CREATE TABLE IF NOT EXISTS markets (
				id                       TEXT PRIMARY KEY,
				title                    TEXT NOT NULL DEFAULT '',
				description              TEXT NOT NULL DEFAULT '',
				category                 TEXT NOT NULL DEFAULT '',
				status                   TEXT NOT NULL,
				min_price_cents          INTEGER NOT NULL DEFAULT 0,
				max_price_cents          INTEGER NOT NULL DEFAULT 0,
				max_order_quantity       INTEGER NOT NULL DEFAULT 0,
				max_position_per_user    INTEGER NOT NULL DEFAULT 0,
				max_order_amount_cents   INTEGER NOT NULL DEFAULT 0,
				maker_fee_bps            INTEGER NOT NULL DEFAULT 0,
				taker_fee_bps            INTEGER NOT NULL DEFAULT 0,
				reserve_balance          INTEGER NOT NULL DEFAULT 0,
				pnl_pool                 INTEGER NOT NULL DEFAULT 0,
				total_yes_shares         INTEGER NOT NULL DEFAULT 0,
				total_no_shares          INTEGER NOT NULL DEFAULT 0,
				resolution_result        TEXT NOT NULL DEFAULT '',
				resolved_at              TEXT,
				settled_at               TEXT,
				trading_start_at         TEXT,
				trading_end_at           TEXT,
				resolution_date          TEXT,
				created_at               TEXT NOT NULL,
				updated_at               TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS orders (
				id                     TEXT PRIMARY KEY,
				user_id                TEXT NOT NULL,
				market_id              TEXT NOT NULL,
				client_order_id        TEXT NOT NULL DEFAULT '',
				original_side          TEXT NOT NULL,
				original_direction     TEXT NOT NULL,
				original_price_cents   INTEGER NOT NULL,
				book_type              TEXT NOT NULL,
				book_direction         TEXT NOT NULL,
				book_price_cents       INTEGER NOT NULL,
				quantity               INTEGER NOT NULL,
				filled_quantity        INTEGER NOT NULL DEFAULT 0,
				remaining_quantity     INTEGER NOT NULL,
				frozen_amount          INTEGER NOT NULL DEFAULT 0,
				frozen_asset_type      TEXT NOT NULL DEFAULT '',
				time_in_force          TEXT NOT NULL,
				status                 TEXT NOT NULL,
				created_at             TEXT NOT NULL,
				updated_at             TEXT NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_client
				ON orders(user_id, client_order_id) WHERE client_order_id <> '';
			CREATE INDEX IF NOT EXISTS idx_orders_open
				ON orders(market_id, status, created_at, id);

			CREATE TABLE IF NOT EXISTS trades (
				id                    TEXT PRIMARY KEY,
				market_id             TEXT NOT NULL,
				buy_order_id          TEXT NOT NULL,
				sell_order_id         TEXT NOT NULL,
				buy_user_id           TEXT NOT NULL,
				sell_user_id          TEXT NOT NULL,
				buy_book_type         TEXT NOT NULL,
				sell_book_type        TEXT NOT NULL,
				taker_order_id        TEXT NOT NULL,
				taker_user_id         TEXT NOT NULL,
				scenario              TEXT NOT NULL,
				price_cents           INTEGER NOT NULL,
				quantity              INTEGER NOT NULL,
				maker_fee_cents       INTEGER NOT NULL DEFAULT 0,
				taker_fee_cents       INTEGER NOT NULL DEFAULT 0,
				buyer_realized_pnl    INTEGER,
				seller_realized_pnl   INTEGER,
				created_at            TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id, created_at);

			CREATE TABLE IF NOT EXISTS ledger_entries (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id               TEXT NOT NULL,
				entry_type            TEXT NOT NULL,
				amount_cents          INTEGER NOT NULL,
				balance_after_cents   INTEGER NOT NULL,
				reference_type        TEXT NOT NULL DEFAULT '',
				reference_id          TEXT NOT NULL DEFAULT '',
				description           TEXT NOT NULL DEFAULT '',
				created_at            TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries(user_id, id DESC);
			CREATE INDEX IF NOT EXISTS idx_ledger_ref ON ledger_entries(reference_type, reference_id);

			CREATE TABLE IF NOT EXISTS wal_events (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id     TEXT NOT NULL,
				order_id      TEXT NOT NULL,
				event_type    TEXT NOT NULL,
				payload_json  TEXT NOT NULL DEFAULT '{}',
				created_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_wal_market ON wal_events(market_id, id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`); err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a single *sql.Tx, committing on success and
// rolling back when fn returns an error. A panic inside fn is not
// recovered here and triggers no rollback; fn's error return is the only
// signal.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := &dbTx{tx: sqlTx}
	if err := fn(ctx, tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// dbTx scopes one atomic unit of work across every repository.
type dbTx struct{ tx *sql.Tx }

func (t *dbTx) Accounts() store.AccountRepo   { return accountRepo{t.tx} }
func (t *dbTx) Positions() store.PositionRepo { return positionRepo{t.tx} }
func (t *dbTx) Orders() store.OrderRepo       { return orderRepo{t.tx} }
func (t *dbTx) Trades() store.TradeRepo       { return tradeRepo{t.tx} }
func (t *dbTx) Markets() store.MarketRepo     { return marketRepo{t.tx} }
func (t *dbTx) Ledger() store.LedgerRepo      { return ledgerRepo{t.tx} }
func (t *dbTx) WAL() store.WALRepo            { return walRepo{t.tx} }

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- accounts ---

type accountRepo struct{ tx *sql.Tx }

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var autoNet int
	var created, updated string
	if err := row.Scan(&a.UserID, &a.AvailableBalance, &a.FrozenBalance, &a.Version, &autoNet, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	a.AutoNettingEnabled = autoNet != 0
	a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(updated)
	return &a, nil
}

const accountCols = `user_id, available_cents, frozen_cents, version, auto_netting_enabled, created_at, updated_at`

func (r accountRepo) Get(ctx context.Context, userID string) (*domain.Account, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, userID)
	return scanAccount(row)
}

func (r accountRepo) GetOrCreate(ctx context.Context, userID string) (*domain.Account, error) {
	a, err := r.Get(ctx, userID)
	if err == nil {
		return a, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	now := nowString()
	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, available_cents, frozen_cents, version, auto_netting_enabled, created_at, updated_at)
		VALUES (?, 0, 0, 0, 1, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, now, now); err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r accountRepo) ListAll(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Account{}
	for rows.Next() {
		var a domain.Account
		var autoNet int
		var created, updated string
		if err := rows.Scan(&a.UserID, &a.AvailableBalance, &a.FrozenBalance, &a.Version, &autoNet, &created, &updated); err != nil {
			return nil, err
		}
		a.AutoNettingEnabled = autoNet != 0
		a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// guardedAccountUpdate runs a conditional UPDATE and returns
// store.ErrGuardFailed when the WHERE clause matched zero rows.
func (r accountRepo) guardedAccountUpdate(ctx context.Context, userID, setClause, guardClause string, args ...any) (*domain.Account, error) {
	if _, err := r.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	q := `UPDATE accounts SET ` + setClause + `, version = version + 1, updated_at = ? WHERE user_id = ?` + guardClause
	fullArgs := append(append([]any{}, args...), nowString(), userID)
	res, err := r.tx.ExecContext(ctx, q, fullArgs...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrGuardFailed
	}
	return r.Get(ctx, userID)
}

func (r accountRepo) Deposit(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	a, err := r.guardedAccountUpdate(ctx, userID, `available_cents = available_cents + ?`, ``, amt)
	if err != nil {
		return nil, err
	}
	if _, err := (ledgerRepo{r.tx}).Append(ctx, &domain.LedgerEntry{
		UserID: userID, EntryType: domain.LedgerDeposit, AmountCents: amt, BalanceAfterCents: a.AvailableBalance,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func (r accountRepo) Withdraw(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	a, err := r.guardedAccountUpdate(ctx, userID, `available_cents = available_cents - ?`, ` AND available_cents >= ?`, amt, amt)
	if err != nil {
		return nil, err
	}
	if _, err := (ledgerRepo{r.tx}).Append(ctx, &domain.LedgerEntry{
		UserID: userID, EntryType: domain.LedgerWithdraw, AmountCents: -amt, BalanceAfterCents: a.AvailableBalance,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func (r accountRepo) FreezeFunds(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.guardedAccountUpdate(ctx, userID,
		`available_cents = available_cents - ?, frozen_cents = frozen_cents + ?`,
		` AND available_cents >= ?`, amt, amt, amt)
}

func (r accountRepo) UnfreezeFunds(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.guardedAccountUpdate(ctx, userID,
		`frozen_cents = frozen_cents - ?, available_cents = available_cents + ?`,
		` AND frozen_cents >= ?`, amt, amt, amt)
}

func (r accountRepo) CreditAvailable(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.guardedAccountUpdate(ctx, userID, `available_cents = available_cents + ?`, ``, amt)
}

func (r accountRepo) DebitAvailable(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.guardedAccountUpdate(ctx, userID, `available_cents = available_cents - ?`, ` AND available_cents >= ?`, amt, amt)
}

func (r accountRepo) DebitFrozen(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.guardedAccountUpdate(ctx, userID, `frozen_cents = frozen_cents - ?`, ` AND frozen_cents >= ?`, amt, amt)
}

// --- positions ---

type positionRepo struct{ tx *sql.Tx }

const positionCols = `user_id, market_id, yes_volume, yes_cost_sum, yes_pending_sell, no_volume, no_cost_sum, no_pending_sell, created_at, updated_at`

func scanPosition(row *sql.Row) (*domain.Position, error) {
	var p domain.Position
	var created, updated string
	if err := row.Scan(&p.UserID, &p.MarketID, &p.YesVolume, &p.YesCostSum, &p.YesPendingSell,
		&p.NoVolume, &p.NoCostSum, &p.NoPendingSell, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
	return &p, nil
}

func (r positionRepo) Get(ctx context.Context, userID, marketID string) (*domain.Position, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE user_id = ? AND market_id = ?`, userID, marketID)
	return scanPosition(row)
}

func (r positionRepo) GetOrCreate(ctx context.Context, userID, marketID string) (*domain.Position, error) {
	p, err := r.Get(ctx, userID, marketID)
	if err == nil {
		return p, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	now := nowString()
	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO positions (user_id, market_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, market_id) DO NOTHING`, userID, marketID, now, now); err != nil {
		return nil, err
	}
	return r.Get(ctx, userID, marketID)
}

func (r positionRepo) ListByMarket(ctx context.Context, marketID string) ([]*domain.Position, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+positionCols+` FROM positions WHERE market_id = ? ORDER BY user_id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Position{}
	for rows.Next() {
		var p domain.Position
		var created, updated string
		if err := rows.Scan(&p.UserID, &p.MarketID, &p.YesVolume, &p.YesCostSum, &p.YesPendingSell,
			&p.NoVolume, &p.NoCostSum, &p.NoPendingSell, &created, &updated); err != nil {
			return nil, err
		}
		p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r positionRepo) guardedPositionUpdate(ctx context.Context, userID, marketID, setClause, guardClause string, args ...any) (*domain.Position, error) {
	if _, err := r.GetOrCreate(ctx, userID, marketID); err != nil {
		return nil, err
	}
	q := `UPDATE positions SET ` + setClause + `, updated_at = ? WHERE user_id = ? AND market_id = ?` + guardClause
	fullArgs := append(append([]any{}, args...), nowString(), userID, marketID)
	res, err := r.tx.ExecContext(ctx, q, fullArgs...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrGuardFailed
	}
	return r.Get(ctx, userID, marketID)
}

func (r positionRepo) FreezeYes(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.guardedPositionUpdate(ctx, userID, marketID,
		`yes_pending_sell = yes_pending_sell + ?`, ` AND yes_volume - yes_pending_sell >= ?`, qty, qty)
}

func (r positionRepo) UnfreezeYes(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.guardedPositionUpdate(ctx, userID, marketID,
		`yes_pending_sell = yes_pending_sell - ?`, ` AND yes_pending_sell >= ?`, qty, qty)
}

func (r positionRepo) FreezeNo(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.guardedPositionUpdate(ctx, userID, marketID,
		`no_pending_sell = no_pending_sell + ?`, ` AND no_volume - no_pending_sell >= ?`, qty, qty)
}

func (r positionRepo) UnfreezeNo(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.guardedPositionUpdate(ctx, userID, marketID,
		`no_pending_sell = no_pending_sell - ?`, ` AND no_pending_sell >= ?`, qty, qty)
}

func (r positionRepo) ApplyYesDelta(ctx context.Context, userID, marketID string, volumeDelta, costSumDelta, pendingSellDelta int64) (*domain.Position, error) {
	return r.guardedPositionUpdate(ctx, userID, marketID,
		`yes_volume = yes_volume + ?, yes_cost_sum = yes_cost_sum + ?, yes_pending_sell = yes_pending_sell + ?`,
		` AND yes_volume + ? >= 0 AND yes_pending_sell + ? >= 0 AND yes_pending_sell + ? <= yes_volume + ?`,
		volumeDelta, costSumDelta, pendingSellDelta, volumeDelta, pendingSellDelta, pendingSellDelta, volumeDelta)
}

func (r positionRepo) ApplyNoDelta(ctx context.Context, userID, marketID string, volumeDelta, costSumDelta, pendingSellDelta int64) (*domain.Position, error) {
	return r.guardedPositionUpdate(ctx, userID, marketID,
		`no_volume = no_volume + ?, no_cost_sum = no_cost_sum + ?, no_pending_sell = no_pending_sell + ?`,
		` AND no_volume + ? >= 0 AND no_pending_sell + ? >= 0 AND no_pending_sell + ? <= no_volume + ?`,
		volumeDelta, costSumDelta, pendingSellDelta, volumeDelta, pendingSellDelta, pendingSellDelta, volumeDelta)
}

func (r positionRepo) ZeroOut(ctx context.Context, userID, marketID string) error {
	if _, err := r.GetOrCreate(ctx, userID, marketID); err != nil {
		return err
	}
	_, err := r.tx.ExecContext(ctx, `
		UPDATE positions SET yes_volume=0, yes_cost_sum=0, yes_pending_sell=0,
			no_volume=0, no_cost_sum=0, no_pending_sell=0, updated_at=?
		WHERE user_id = ? AND market_id = ?`, nowString(), userID, marketID)
	return err
}

// --- orders ---

type orderRepo struct{ tx *sql.Tx }

const orderCols = `id, user_id, market_id, client_order_id, original_side, original_direction, original_price_cents,
	book_type, book_direction, book_price_cents, quantity, filled_quantity, remaining_quantity,
	frozen_amount, frozen_asset_type, time_in_force, status, created_at, updated_at`

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var created, updated string
	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &o.ClientOrderID, &o.OriginalSide, &o.OriginalDirection, &o.OriginalPriceCents,
		&o.BookType, &o.BookDirection, &o.BookPriceCents, &o.Quantity, &o.FilledQuantity, &o.RemainingQuantity,
		&o.FrozenAmount, &o.FrozenAssetType, &o.TimeInForce, &o.Status, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.CreatedAt, o.UpdatedAt = parseTime(created), parseTime(updated)
	return &o, nil
}

func (r orderRepo) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, market_id, client_order_id, original_side, original_direction, original_price_cents,
			book_type, book_direction, book_price_cents, quantity, filled_quantity, remaining_quantity,
			frozen_amount, frozen_asset_type, time_in_force, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.MarketID, o.ClientOrderID, o.OriginalSide, o.OriginalDirection, o.OriginalPriceCents,
		o.BookType, o.BookDirection, o.BookPriceCents, o.Quantity, o.FilledQuantity, o.RemainingQuantity,
		o.FrozenAmount, o.FrozenAssetType, o.TimeInForce, o.Status, o.CreatedAt.UTC().Format(time.RFC3339Nano), nowString())
	return err
}

func (r orderRepo) Update(ctx context.Context, o *domain.Order) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE orders SET filled_quantity=?, remaining_quantity=?, frozen_amount=?, frozen_asset_type=?, status=?, updated_at=?
		WHERE id = ?`,
		o.FilledQuantity, o.RemainingQuantity, o.FrozenAmount, o.FrozenAssetType, o.Status, nowString(), o.ID)
	return err
}

func (r orderRepo) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, orderID)
	return scanOrder(row)
}

func (r orderRepo) GetByClientOrderID(ctx context.Context, userID, clientOrderID string) (*domain.Order, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id = ? AND client_order_id = ?`, userID, clientOrderID)
	return scanOrder(row)
}

func (r orderRepo) ListOpenByMarket(ctx context.Context, marketID string) ([]*domain.Order, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE market_id = ? AND status IN (?, ?)
		ORDER BY created_at, id`, marketID, domain.OrderOpen, domain.OrderPartiallyFilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Order{}
	for rows.Next() {
		var o domain.Order
		var created, updated string
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &o.ClientOrderID, &o.OriginalSide, &o.OriginalDirection, &o.OriginalPriceCents,
			&o.BookType, &o.BookDirection, &o.BookPriceCents, &o.Quantity, &o.FilledQuantity, &o.RemainingQuantity,
			&o.FrozenAmount, &o.FrozenAssetType, &o.TimeInForce, &o.Status, &created, &updated); err != nil {
			return nil, err
		}
		o.CreatedAt, o.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r orderRepo) ListOpenByMarketUser(ctx context.Context, marketID, userID string) ([]*domain.Order, error) {
	all, err := r.ListOpenByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0)
	for _, o := range all {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- trades ---

type tradeRepo struct{ tx *sql.Tx }

func (r tradeRepo) Insert(ctx context.Context, t *domain.Trade) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO trades (id, market_id, buy_order_id, sell_order_id, buy_user_id, sell_user_id,
			buy_book_type, sell_book_type, taker_order_id, taker_user_id, scenario, price_cents, quantity,
			maker_fee_cents, taker_fee_cents, buyer_realized_pnl, seller_realized_pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MarketID, t.BuyOrderID, t.SellOrderID, t.BuyUserID, t.SellUserID,
		t.BuyBookType, t.SellBookType, t.TakerOrderID, t.TakerUserID, t.Scenario, t.PriceCents, t.Quantity,
		t.MakerFeeCents, t.TakerFeeCents, t.BuyerRealizedPnl, t.SellerRealizedPnl, nowString())
	return err
}

func (r tradeRepo) ListByMarket(ctx context.Context, marketID string) ([]*domain.Trade, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, market_id, buy_order_id, sell_order_id, buy_user_id, sell_user_id,
			buy_book_type, sell_book_type, taker_order_id, taker_user_id, scenario, price_cents, quantity,
			maker_fee_cents, taker_fee_cents, buyer_realized_pnl, seller_realized_pnl, created_at
		FROM trades WHERE market_id = ? ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Trade{}
	for rows.Next() {
		var t domain.Trade
		var created string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.BuyOrderID, &t.SellOrderID, &t.BuyUserID, &t.SellUserID,
			&t.BuyBookType, &t.SellBookType, &t.TakerOrderID, &t.TakerUserID, &t.Scenario, &t.PriceCents, &t.Quantity,
			&t.MakerFeeCents, &t.TakerFeeCents, &t.BuyerRealizedPnl, &t.SellerRealizedPnl, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- markets ---

type marketRepo struct{ tx *sql.Tx }

const marketCols = `id, title, description, category, status, min_price_cents, max_price_cents, max_order_quantity,
	max_position_per_user, max_order_amount_cents, maker_fee_bps, taker_fee_bps, reserve_balance, pnl_pool,
	total_yes_shares, total_no_shares, resolution_result, resolved_at, settled_at, trading_start_at,
	trading_end_at, resolution_date, created_at, updated_at`

func scanMarket(row *sql.Row) (*domain.Market, error) {
	var m domain.Market
	var resolvedAt, settledAt, tradingStart, tradingEnd, resolutionDate sql.NullString
	var created, updated string
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Status, &m.MinPriceCents, &m.MaxPriceCents,
		&m.MaxOrderQuantity, &m.MaxPositionPerUser, &m.MaxOrderAmountCents, &m.MakerFeeBps, &m.TakerFeeBps,
		&m.ReserveBalance, &m.PnlPool, &m.TotalYesShares, &m.TotalNoShares, &m.ResolutionResult,
		&resolvedAt, &settledAt, &tradingStart, &tradingEnd, &resolutionDate, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	m.ResolvedAt = nullableTime(resolvedAt)
	m.SettledAt = nullableTime(settledAt)
	m.TradingStartAt = nullableTime(tradingStart)
	m.TradingEndAt = nullableTime(tradingEnd)
	m.ResolutionDate = nullableTime(resolutionDate)
	m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
	return &m, nil
}

func nullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullableTimeString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (r marketRepo) Get(ctx context.Context, marketID string) (*domain.Market, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets WHERE id = ?`, marketID)
	return scanMarket(row)
}

// Update performs an upsert: the demo harness and seeding code call this
// to install a market's initial row, and the engine calls it after every
// aggregate mutation.
func (r marketRepo) Update(ctx context.Context, m *domain.Market) error {
	now := nowString()
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO markets (`+marketCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, category=excluded.category,
			status=excluded.status, min_price_cents=excluded.min_price_cents, max_price_cents=excluded.max_price_cents,
			max_order_quantity=excluded.max_order_quantity, max_position_per_user=excluded.max_position_per_user,
			max_order_amount_cents=excluded.max_order_amount_cents, maker_fee_bps=excluded.maker_fee_bps,
			taker_fee_bps=excluded.taker_fee_bps, reserve_balance=excluded.reserve_balance, pnl_pool=excluded.pnl_pool,
			total_yes_shares=excluded.total_yes_shares, total_no_shares=excluded.total_no_shares,
			resolution_result=excluded.resolution_result, resolved_at=excluded.resolved_at, settled_at=excluded.settled_at,
			trading_start_at=excluded.trading_start_at, trading_end_at=excluded.trading_end_at,
			resolution_date=excluded.resolution_date, updated_at=excluded.updated_at`,
		m.ID, m.Title, m.Description, m.Category, m.Status, m.MinPriceCents, m.MaxPriceCents, m.MaxOrderQuantity,
		m.MaxPositionPerUser, m.MaxOrderAmountCents, m.MakerFeeBps, m.TakerFeeBps, m.ReserveBalance, m.PnlPool,
		m.TotalYesShares, m.TotalNoShares, m.ResolutionResult, nullableTimeString(m.ResolvedAt), nullableTimeString(m.SettledAt),
		nullableTimeString(m.TradingStartAt), nullableTimeString(m.TradingEndAt), nullableTimeString(m.ResolutionDate),
		func() string { if m.CreatedAt.IsZero() { return now }; return m.CreatedAt.UTC().Format(time.RFC3339Nano) }(), now)
	return err
}

func (r marketRepo) ListAll(ctx context.Context) ([]*domain.Market, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+marketCols+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Market{}
	for rows.Next() {
		var m domain.Market
		var resolvedAt, settledAt, tradingStart, tradingEnd, resolutionDate sql.NullString
		var created, updated string
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Status, &m.MinPriceCents, &m.MaxPriceCents,
			&m.MaxOrderQuantity, &m.MaxPositionPerUser, &m.MaxOrderAmountCents, &m.MakerFeeBps, &m.TakerFeeBps,
			&m.ReserveBalance, &m.PnlPool, &m.TotalYesShares, &m.TotalNoShares, &m.ResolutionResult,
			&resolvedAt, &settledAt, &tradingStart, &tradingEnd, &resolutionDate, &created, &updated); err != nil {
			return nil, err
		}
		m.ResolvedAt = nullableTime(resolvedAt)
		m.SettledAt = nullableTime(settledAt)
		m.TradingStartAt = nullableTime(tradingStart)
		m.TradingEndAt = nullableTime(tradingEnd)
		m.ResolutionDate = nullableTime(resolutionDate)
		m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- ledger ---

type ledgerRepo struct{ tx *sql.Tx }

func (r ledgerRepo) Append(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, entry_type, amount_cents, balance_after_cents, reference_type, reference_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.EntryType, e.AmountCents, e.BalanceAfterCents, e.ReferenceType, e.ReferenceID, e.Description, nowString())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	cp := *e
	cp.ID = id
	cp.CreatedAt = time.Now()
	return &cp, nil
}

func (r ledgerRepo) ListByUser(ctx context.Context, userID string, entryType *domain.LedgerEntryType, cur store.LedgerCursor) ([]*domain.LedgerEntry, error) {
	q := `SELECT id, user_id, entry_type, amount_cents, balance_after_cents, reference_type, reference_id, description, created_at
		FROM ledger_entries WHERE user_id = ?`
	args := []any{userID}
	if entryType != nil {
		q += ` AND entry_type = ?`
		args = append(args, *entryType)
	}
	if cur.AfterID != 0 {
		q += ` AND id < ?`
		args = append(args, cur.AfterID)
	}
	q += ` ORDER BY id DESC`
	if cur.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, cur.Limit)
	}
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.LedgerEntry{}
	for rows.Next() {
		var e domain.LedgerEntry
		var created string
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryType, &e.AmountCents, &e.BalanceAfterCents,
			&e.ReferenceType, &e.ReferenceID, &e.Description, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r ledgerRepo) FindByReference(ctx context.Context, referenceType, referenceID string) (*domain.LedgerEntry, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, user_id, entry_type, amount_cents, balance_after_cents, reference_type, reference_id, description, created_at
		FROM ledger_entries WHERE reference_type = ? AND reference_id = ? ORDER BY id LIMIT 1`, referenceType, referenceID)
	var e domain.LedgerEntry
	var created string
	if err := row.Scan(&e.ID, &e.UserID, &e.EntryType, &e.AmountCents, &e.BalanceAfterCents,
		&e.ReferenceType, &e.ReferenceID, &e.Description, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	e.CreatedAt = parseTime(created)
	return &e, nil
}

func (r ledgerRepo) SumNetDeposits(ctx context.Context) (int64, error) {
	var sum sql.NullInt64
	err := r.tx.QueryRowContext(ctx, `
		SELECT SUM(amount_cents) FROM ledger_entries WHERE entry_type IN (?, ?)`,
		domain.LedgerDeposit, domain.LedgerWithdraw).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// --- wal ---

type walRepo struct{ tx *sql.Tx }

func (r walRepo) Append(ctx context.Context, e *domain.WALEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO wal_events (market_id, order_id, event_type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)`, e.MarketID, e.OrderID, e.EventType, string(payload), nowString())
	return err
}
