// Package memstore is a pure in-memory store.Store, used by unit tests and
// the demo harness. It never touches a database; guard semantics are
// enforced under a single coarse mutex instead of a conditional SQL write,
// and a failed transaction restores a snapshot taken before the callback
// ran (every mutator replaces, never edits in place, so a shallow map copy
// is a full snapshot). Grounded on the teacher's OrderCache/TradeBuffer
// (map + sync.RWMutex) style in offchain/matcher/cache.go.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/huandu/skiplist"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/store"
)

type posKey struct{ userID, marketID string }

// Store is the in-memory backing state.
type Store struct {
	mu sync.Mutex

	accounts  map[string]*domain.Account
	positions map[posKey]*domain.Position
	orders    map[string]*domain.Order
	trades    []*domain.Trade
	// clientOrderIndex maps userID\x00clientOrderID -> orderID.
	clientOrderIndex map[string]string
	markets          map[string]*domain.Market

	ledger    []*domain.LedgerEntry
	ledgerRef map[string]int // "refType\x00refID" -> index into ledger
	ledgerSeq int64

	wal []*domain.WALEvent

	// openIndex keeps OPEN/PARTIALLY_FILLED order ids in acceptance order
	// per market, via a skiplist keyed by (createdAt, orderID), mirroring
	// the ordered-replay role store/sqlstore gets from SQL ORDER BY.
	openIndex map[string]*skiplist.SkipList
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:         make(map[string]*domain.Account),
		positions:        make(map[posKey]*domain.Position),
		orders:           make(map[string]*domain.Order),
		clientOrderIndex: make(map[string]string),
		markets:          make(map[string]*domain.Market),
		ledgerRef:        make(map[string]int),
		openIndex:        make(map[string]*skiplist.SkipList),
	}
}

// SeedMarket installs a market row directly (test/demo convenience).
func (s *Store) SeedMarket(m *domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.markets[m.ID] = &cp
}

type openKey struct {
	createdAt time.Time
	orderID   string
}

func openKeyLess(a, b interface{}) int {
	ka, kb := a.(openKey), b.(openKey)
	if ka.createdAt.Before(kb.createdAt) {
		return -1
	}
	if ka.createdAt.After(kb.createdAt) {
		return 1
	}
	if ka.orderID < kb.orderID {
		return -1
	}
	if ka.orderID > kb.orderID {
		return 1
	}
	return 0
}

func (s *Store) openIndexFor(marketID string) *skiplist.SkipList {
	sl, ok := s.openIndex[marketID]
	if !ok {
		sl = skiplist.New(skiplist.LessThanFunc(func(a, b interface{}) int { return openKeyLess(a, b) }))
		s.openIndex[marketID] = sl
	}
	return sl
}

// snapshot is a shallow copy of every map; since mutators always replace
// map values rather than editing structs in place, this fully captures
// rollback state.
type snapshot struct {
	accounts         map[string]*domain.Account
	positions        map[posKey]*domain.Position
	orders           map[string]*domain.Order
	clientOrderIndex map[string]string
	markets          map[string]*domain.Market
	ledgerLen        int
	ledgerRef        map[string]int
	walLen           int
	tradesLen        int
}

func (s *Store) snapshot() snapshot {
	cp := func(m map[string]*domain.Account) map[string]*domain.Account {
		out := make(map[string]*domain.Account, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	_ = cp
	sn := snapshot{
		accounts:         make(map[string]*domain.Account, len(s.accounts)),
		positions:        make(map[posKey]*domain.Position, len(s.positions)),
		orders:           make(map[string]*domain.Order, len(s.orders)),
		clientOrderIndex: make(map[string]string, len(s.clientOrderIndex)),
		markets:          make(map[string]*domain.Market, len(s.markets)),
		ledgerRef:        make(map[string]int, len(s.ledgerRef)),
		ledgerLen:        len(s.ledger),
		walLen:           len(s.wal),
		tradesLen:        len(s.trades),
	}
	for k, v := range s.accounts {
		sn.accounts[k] = v
	}
	for k, v := range s.positions {
		sn.positions[k] = v
	}
	for k, v := range s.orders {
		sn.orders[k] = v
	}
	for k, v := range s.clientOrderIndex {
		sn.clientOrderIndex[k] = v
	}
	for k, v := range s.markets {
		sn.markets[k] = v
	}
	for k, v := range s.ledgerRef {
		sn.ledgerRef[k] = v
	}
	return sn
}

func (s *Store) restore(sn snapshot) {
	s.accounts = sn.accounts
	s.positions = sn.positions
	s.orders = sn.orders
	s.clientOrderIndex = sn.clientOrderIndex
	s.markets = sn.markets
	s.ledger = s.ledger[:sn.ledgerLen]
	s.ledgerRef = sn.ledgerRef
	s.wal = s.wal[:sn.walLen]
	s.trades = s.trades[:sn.tradesLen]
	// openIndex entries made during the failed tx are harmless to leave
	// (they only ever point at order ids; a rolled-back order never
	// becomes OPEN so it is simply an orphan key never read back), but
	// we rebuild unconditionally from orders to stay exact.
	s.openIndex = make(map[string]*skiplist.SkipList)
	for _, o := range s.orders {
		if o.IsActive() {
			s.openIndexFor(o.MarketID).Set(openKey{o.CreatedAt, o.ID}, o.ID)
		}
	}
}

// WithTx runs fn under the store's single mutex, restoring the pre-call
// snapshot if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := s.snapshot()
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		s.restore(sn)
		return err
	}
	return nil
}

type memTx struct{ s *Store }

func (t *memTx) Accounts() store.AccountRepo   { return accountRepo{t.s} }
func (t *memTx) Positions() store.PositionRepo { return positionRepo{t.s} }
func (t *memTx) Orders() store.OrderRepo       { return orderRepo{t.s} }
func (t *memTx) Trades() store.TradeRepo       { return tradeRepo{t.s} }
func (t *memTx) Markets() store.MarketRepo     { return marketRepo{t.s} }
func (t *memTx) Ledger() store.LedgerRepo      { return ledgerRepo{t.s} }
func (t *memTx) WAL() store.WALRepo            { return walRepo{t.s} }

// --- trades ---

type tradeRepo struct{ s *Store }

func (r tradeRepo) Insert(ctx context.Context, t *domain.Trade) error {
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.s.trades = append(r.s.trades, &cp)
	return nil
}

func (r tradeRepo) ListByMarket(ctx context.Context, marketID string) ([]*domain.Trade, error) {
	out := make([]*domain.Trade, 0)
	for _, t := range r.s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- accounts ---

type accountRepo struct{ s *Store }

func (r accountRepo) GetOrCreate(ctx context.Context, userID string) (*domain.Account, error) {
	if a, ok := r.s.accounts[userID]; ok {
		return a, nil
	}
	now := time.Now()
	a := &domain.Account{
		UserID:             userID,
		AutoNettingEnabled: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	r.s.accounts[userID] = a
	return a, nil
}

func (r accountRepo) Get(ctx context.Context, userID string) (*domain.Account, error) {
	a, ok := r.s.accounts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (r accountRepo) ListAll(ctx context.Context) ([]*domain.Account, error) {
	out := make([]*domain.Account, 0, len(r.s.accounts))
	for _, a := range r.s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r accountRepo) mutate(ctx context.Context, userID string, f func(a domain.Account) (domain.Account, bool)) (*domain.Account, error) {
	cur, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, ok := f(*cur)
	if !ok {
		return nil, store.ErrGuardFailed
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now()
	r.s.accounts[userID] = &next
	return &next, nil
}

func (r accountRepo) Deposit(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	a, err := r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		a.AvailableBalance += amt
		return a, true
	})
	if err != nil {
		return nil, err
	}
	if _, err := (ledgerRepo{r.s}).Append(ctx, &domain.LedgerEntry{
		UserID: userID, EntryType: domain.LedgerDeposit, AmountCents: amt, BalanceAfterCents: a.AvailableBalance,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func (r accountRepo) Withdraw(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	a, err := r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		if a.AvailableBalance < amt {
			return a, false
		}
		a.AvailableBalance -= amt
		return a, true
	})
	if err != nil {
		return nil, err
	}
	if _, err := (ledgerRepo{r.s}).Append(ctx, &domain.LedgerEntry{
		UserID: userID, EntryType: domain.LedgerWithdraw, AmountCents: -amt, BalanceAfterCents: a.AvailableBalance,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func (r accountRepo) FreezeFunds(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		if a.AvailableBalance < amt {
			return a, false
		}
		a.AvailableBalance -= amt
		a.FrozenBalance += amt
		return a, true
	})
}

func (r accountRepo) UnfreezeFunds(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		if a.FrozenBalance < amt {
			return a, false
		}
		a.FrozenBalance -= amt
		a.AvailableBalance += amt
		return a, true
	})
}

func (r accountRepo) CreditAvailable(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		a.AvailableBalance += amt
		return a, true
	})
}

func (r accountRepo) DebitAvailable(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		if a.AvailableBalance < amt {
			return a, false
		}
		a.AvailableBalance -= amt
		return a, true
	})
}

func (r accountRepo) DebitFrozen(ctx context.Context, userID string, amt int64) (*domain.Account, error) {
	return r.mutate(ctx, userID, func(a domain.Account) (domain.Account, bool) {
		if a.FrozenBalance < amt {
			return a, false
		}
		a.FrozenBalance -= amt
		return a, true
	})
}

// --- positions ---

type positionRepo struct{ s *Store }

func (r positionRepo) GetOrCreate(ctx context.Context, userID, marketID string) (*domain.Position, error) {
	k := posKey{userID, marketID}
	if p, ok := r.s.positions[k]; ok {
		return p, nil
	}
	now := time.Now()
	p := &domain.Position{UserID: userID, MarketID: marketID, CreatedAt: now, UpdatedAt: now}
	r.s.positions[k] = p
	return p, nil
}

func (r positionRepo) Get(ctx context.Context, userID, marketID string) (*domain.Position, error) {
	p, ok := r.s.positions[posKey{userID, marketID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (r positionRepo) ListByMarket(ctx context.Context, marketID string) ([]*domain.Position, error) {
	out := []*domain.Position{}
	for k, p := range r.s.positions {
		if k.marketID == marketID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r positionRepo) mutate(ctx context.Context, userID, marketID string, f func(p domain.Position) (domain.Position, bool)) (*domain.Position, error) {
	cur, err := r.GetOrCreate(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	next, ok := f(*cur)
	if !ok {
		return nil, store.ErrGuardFailed
	}
	next.UpdatedAt = time.Now()
	r.s.positions[posKey{userID, marketID}] = &next
	return &next, nil
}

func (r positionRepo) FreezeYes(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		if p.YesVolume-p.YesPendingSell < qty {
			return p, false
		}
		p.YesPendingSell += qty
		return p, true
	})
}

func (r positionRepo) UnfreezeYes(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		if p.YesPendingSell < qty {
			return p, false
		}
		p.YesPendingSell -= qty
		return p, true
	})
}

func (r positionRepo) FreezeNo(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		if p.NoVolume-p.NoPendingSell < qty {
			return p, false
		}
		p.NoPendingSell += qty
		return p, true
	})
}

func (r positionRepo) UnfreezeNo(ctx context.Context, userID, marketID string, qty int64) (*domain.Position, error) {
	return r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		if p.NoPendingSell < qty {
			return p, false
		}
		p.NoPendingSell -= qty
		return p, true
	})
}

func (r positionRepo) ApplyYesDelta(ctx context.Context, userID, marketID string, volumeDelta, costSumDelta, pendingSellDelta int64) (*domain.Position, error) {
	return r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		p.YesVolume += volumeDelta
		p.YesCostSum += costSumDelta
		p.YesPendingSell += pendingSellDelta
		if p.YesVolume < 0 || p.YesPendingSell < 0 || p.YesPendingSell > p.YesVolume {
			return p, false
		}
		return p, true
	})
}

func (r positionRepo) ApplyNoDelta(ctx context.Context, userID, marketID string, volumeDelta, costSumDelta, pendingSellDelta int64) (*domain.Position, error) {
	return r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		p.NoVolume += volumeDelta
		p.NoCostSum += costSumDelta
		p.NoPendingSell += pendingSellDelta
		if p.NoVolume < 0 || p.NoPendingSell < 0 || p.NoPendingSell > p.NoVolume {
			return p, false
		}
		return p, true
	})
}

func (r positionRepo) ZeroOut(ctx context.Context, userID, marketID string) error {
	_, err := r.mutate(ctx, userID, marketID, func(p domain.Position) (domain.Position, bool) {
		p.YesVolume, p.YesCostSum, p.YesPendingSell = 0, 0, 0
		p.NoVolume, p.NoCostSum, p.NoPendingSell = 0, 0, 0
		return p, true
	})
	return err
}

// --- orders ---

type orderRepo struct{ s *Store }

func clientKey(userID, clientOrderID string) string { return userID + "\x00" + clientOrderID }

func (r orderRepo) Insert(ctx context.Context, o *domain.Order) error {
	cp := *o
	r.s.orders[o.ID] = &cp
	if o.ClientOrderID != "" {
		r.s.clientOrderIndex[clientKey(o.UserID, o.ClientOrderID)] = o.ID
	}
	if cp.IsActive() {
		r.s.openIndexFor(o.MarketID).Set(openKey{cp.CreatedAt, cp.ID}, cp.ID)
	}
	return nil
}

func (r orderRepo) Update(ctx context.Context, o *domain.Order) error {
	prev, ok := r.s.orders[o.ID]
	cp := *o
	r.s.orders[o.ID] = &cp
	wasActive := ok && prev.IsActive()
	isActive := cp.IsActive()
	sl := r.s.openIndexFor(cp.MarketID)
	if wasActive && !isActive {
		sl.Remove(openKey{prev.CreatedAt, prev.ID})
	} else if !wasActive && isActive {
		sl.Set(openKey{cp.CreatedAt, cp.ID}, cp.ID)
	}
	return nil
}

// Get returns a defensive copy of the order: callers mutate the returned
// value freely and write it back with Update, never touching the map's
// own pointer in place, preserving snapshot/restore's copy-on-write
// invariant.
func (r orderRepo) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	o, ok := r.s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r orderRepo) GetByClientOrderID(ctx context.Context, userID, clientOrderID string) (*domain.Order, error) {
	id, ok := r.s.clientOrderIndex[clientKey(userID, clientOrderID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r orderRepo) ListOpenByMarket(ctx context.Context, marketID string) ([]*domain.Order, error) {
	sl := r.s.openIndexFor(marketID)
	out := make([]*domain.Order, 0, sl.Len())
	for el := sl.Front(); el != nil; el = el.Next() {
		id := el.Value.(string)
		if o, ok := r.s.orders[id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r orderRepo) ListOpenByMarketUser(ctx context.Context, marketID, userID string) ([]*domain.Order, error) {
	all, _ := r.ListOpenByMarket(ctx, marketID)
	out := make([]*domain.Order, 0)
	for _, o := range all {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- markets ---

type marketRepo struct{ s *Store }

// Get returns a defensive copy; mutations only take effect once passed
// back through Update (see orderRepo.Get).
func (r marketRepo) Get(ctx context.Context, marketID string) (*domain.Market, error) {
	m, ok := r.s.markets[marketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r marketRepo) Update(ctx context.Context, m *domain.Market) error {
	cp := *m
	cp.UpdatedAt = time.Now()
	r.s.markets[m.ID] = &cp
	return nil
}

func (r marketRepo) ListAll(ctx context.Context) ([]*domain.Market, error) {
	out := make([]*domain.Market, 0, len(r.s.markets))
	for _, m := range r.s.markets {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ledger ---

type ledgerRepo struct{ s *Store }

func refKey(refType, refID string) string { return refType + "\x00" + refID }

func (r ledgerRepo) Append(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	r.s.ledgerSeq++
	cp := *e
	cp.ID = r.s.ledgerSeq
	cp.CreatedAt = time.Now()
	r.s.ledger = append(r.s.ledger, &cp)
	if cp.ReferenceType != "" && cp.ReferenceID != "" {
		if _, exists := r.s.ledgerRef[refKey(cp.ReferenceType, cp.ReferenceID)]; !exists {
			r.s.ledgerRef[refKey(cp.ReferenceType, cp.ReferenceID)] = len(r.s.ledger) - 1
		}
	}
	return &cp, nil
}

func (r ledgerRepo) ListByUser(ctx context.Context, userID string, entryType *domain.LedgerEntryType, cur store.LedgerCursor) ([]*domain.LedgerEntry, error) {
	out := []*domain.LedgerEntry{}
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		e := r.s.ledger[i]
		if e.UserID != userID {
			continue
		}
		if entryType != nil && e.EntryType != *entryType {
			continue
		}
		if cur.AfterID != 0 && e.ID >= cur.AfterID {
			continue
		}
		out = append(out, e)
		if cur.Limit > 0 && len(out) >= cur.Limit {
			break
		}
	}
	return out, nil
}

func (r ledgerRepo) FindByReference(ctx context.Context, referenceType, referenceID string) (*domain.LedgerEntry, error) {
	idx, ok := r.s.ledgerRef[refKey(referenceType, referenceID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.s.ledger[idx], nil
}

func (r ledgerRepo) SumNetDeposits(ctx context.Context) (int64, error) {
	var sum int64
	for _, e := range r.s.ledger {
		switch e.EntryType {
		case domain.LedgerDeposit:
			sum += e.AmountCents
		case domain.LedgerWithdraw:
			sum += e.AmountCents // withdraw amounts are stored negative
		}
	}
	return sum, nil
}

// --- wal ---

type walRepo struct{ s *Store }

func (r walRepo) Append(ctx context.Context, e *domain.WALEvent) error {
	cp := *e
	cp.ID = int64(len(r.s.wal) + 1)
	cp.CreatedAt = time.Now()
	r.s.wal = append(r.s.wal, &cp)
	return nil
}
