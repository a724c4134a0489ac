// Package store defines the persistence ports consumed by the engine and
// its collaborators (C17). Two implementations exist: memstore (in-memory,
// used by unit tests and the demo harness) and sqlstore (modernc.org/sqlite
// backed). Every mutating method that the spec calls a "guard" — freeze,
// unfreeze, withdraw, debit — must perform its check and its write as one
// atomic conditional operation; a failed guard returns ErrGuardFailed
// (memstore: under its internal mutex; sqlstore: a zero-row UPDATE) rather
// than a prior Get followed by a separate write.
package store

import (
	"context"
	"errors"

	"github.com/openalpha/predictx/internal/domain"
)

// ErrNotFound is returned by Get-style lookups that find no row.
var ErrNotFound = errors.New("store: not found")

// ErrGuardFailed is returned when a conditional write's WHERE clause
// matched zero rows — the guard, not a prior read, is the failure signal.
var ErrGuardFailed = errors.New("store: guard failed")

// LedgerCursor pages through ledger entries, most recent first.
type LedgerCursor struct {
	AfterID int64
	Limit   int
}

// Store opens transactions. Every engine operation runs inside exactly one.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx scopes a single atomic unit of work across all repositories.
type Tx interface {
	Accounts() AccountRepo
	Positions() PositionRepo
	Orders() OrderRepo
	Trades() TradeRepo
	Markets() MarketRepo
	Ledger() LedgerRepo
	WAL() WALRepo
}

// AccountRepo is the custody layer for cash (C3).
type AccountRepo interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Account, error)
	Get(ctx context.Context, userID string) (*domain.Account, error)
	ListAll(ctx context.Context) ([]*domain.Account, error)

	// Deposit always succeeds for amount > 0.
	Deposit(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
	// Withdraw guards available >= amount.
	Withdraw(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
	// FreezeFunds guards available >= amount; moves available -> frozen.
	FreezeFunds(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
	// UnfreezeFunds guards frozen >= amount; moves frozen -> available.
	UnfreezeFunds(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
	// CreditAvailable adds to available unconditionally (e.g. trade proceeds).
	CreditAvailable(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
	// DebitAvailable guards available >= amount.
	DebitAvailable(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
	// DebitFrozen guards frozen >= amount (used by the fee collector on
	// pre-frozen takers).
	DebitFrozen(ctx context.Context, userID string, amountCents int64) (*domain.Account, error)
}

// PositionRepo is the custody layer for shares (C4).
type PositionRepo interface {
	GetOrCreate(ctx context.Context, userID, marketID string) (*domain.Position, error)
	Get(ctx context.Context, userID, marketID string) (*domain.Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]*domain.Position, error)

	// FreezeYes/FreezeNo guard volume-pending >= qty.
	FreezeYes(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error)
	UnfreezeYes(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error)
	FreezeNo(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error)
	UnfreezeNo(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error)

	// ApplyYesDelta/ApplyNoDelta are used by clearing (C10), auto-netting
	// (C12) and the AMM privileged mint/burn (C16) to mutate
	// volume/cost_sum/pending_sell together.
	ApplyYesDelta(ctx context.Context, userID, marketID string, volumeDelta, costSumDelta, pendingSellDelta int64) (*domain.Position, error)
	ApplyNoDelta(ctx context.Context, userID, marketID string, volumeDelta, costSumDelta, pendingSellDelta int64) (*domain.Position, error)

	// ZeroOut clears both sides to zero (settlement).
	ZeroOut(ctx context.Context, userID, marketID string) error
}

// OrderRepo persists orders.
type OrderRepo interface {
	Insert(ctx context.Context, o *domain.Order) error
	Update(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	GetByClientOrderID(ctx context.Context, userID, clientOrderID string) (*domain.Order, error)
	// ListOpenByMarket returns OPEN/PARTIALLY_FILLED orders ordered by
	// creation time ascending, for lazy order-book rebuild.
	ListOpenByMarket(ctx context.Context, marketID string) ([]*domain.Order, error)
	ListOpenByMarketUser(ctx context.Context, marketID, userID string) ([]*domain.Order, error)
}

// TradeRepo persists immutable fill records.
type TradeRepo interface {
	Insert(ctx context.Context, t *domain.Trade) error
	ListByMarket(ctx context.Context, marketID string) ([]*domain.Trade, error)
}

// MarketRepo persists market aggregates.
type MarketRepo interface {
	Get(ctx context.Context, marketID string) (*domain.Market, error)
	Update(ctx context.Context, m *domain.Market) error
	ListAll(ctx context.Context) ([]*domain.Market, error)
}

// LedgerRepo is the append-only journal (C2).
type LedgerRepo interface {
	Append(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error)
	ListByUser(ctx context.Context, userID string, entryType *domain.LedgerEntryType, cur LedgerCursor) ([]*domain.LedgerEntry, error)
	// FindByReference looks up a prior entry by (reference_type,
	// reference_id) for idempotent AMM mint/burn replay.
	FindByReference(ctx context.Context, referenceType, referenceID string) (*domain.LedgerEntry, error)
	// SumNetDeposits returns Σdeposits − Σwithdrawals across all users,
	// the right-hand side of INV-G.
	SumNetDeposits(ctx context.Context) (int64, error)
}

// WALRepo is the append-only order-lifecycle audit log.
type WALRepo interface {
	Append(ctx context.Context, e *domain.WALEvent) error
}
