package domain

import "time"

// Market is a single binary-outcome contract and its aggregate state.
type Market struct {
	ID          string
	Title       string
	Description string
	Category    string

	Status MarketStatus

	MinPriceCents       int32
	MaxPriceCents       int32
	MaxOrderQuantity    int32
	MaxPositionPerUser  int32
	MaxOrderAmountCents int64
	MakerFeeBps         int32
	TakerFeeBps         int32

	ReserveBalance  int64
	PnlPool         int64
	TotalYesShares  int64
	TotalNoShares   int64

	ResolutionResult ResolutionResult
	ResolvedAt       *time.Time
	SettledAt        *time.Time

	TradingStartAt *time.Time
	TradingEndAt   *time.Time
	ResolutionDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceBounds returns the market's configured price range, defaulting to
// [1, 99] when unset.
func (m *Market) PriceBounds() (min, max int32) {
	min, max = m.MinPriceCents, m.MaxPriceCents
	if min <= 0 {
		min = 1
	}
	if max <= 0 {
		max = 99
	}
	return min, max
}

// Account is one user's cash custody row.
type Account struct {
	UserID             string
	AvailableBalance   int64
	FrozenBalance      int64
	Version            int64
	AutoNettingEnabled bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TotalBalance is available + frozen.
func (a *Account) TotalBalance() int64 { return a.AvailableBalance + a.FrozenBalance }

// Position is one user's YES/NO share custody row for a single market.
type Position struct {
	UserID   string
	MarketID string

	YesVolume      int64
	YesCostSum     int64
	YesPendingSell int64

	NoVolume      int64
	NoCostSum     int64
	NoPendingSell int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailableYes is the share count free to sell (not already reserved).
func (p *Position) AvailableYes() int64 { return p.YesVolume - p.YesPendingSell }

// AvailableNo is the NO-side analogue of AvailableYes.
func (p *Position) AvailableNo() int64 { return p.NoVolume - p.NoPendingSell }

// Order is a single order in either its resting or terminal form.
type Order struct {
	ID            string
	UserID        string
	MarketID      string
	ClientOrderID string

	OriginalSide      Side
	OriginalDirection Direction
	OriginalPriceCents int32

	BookType      BookType
	BookDirection BookDirection
	BookPriceCents int32

	Quantity         int32
	FilledQuantity   int32
	RemainingQuantity int32

	FrozenAmount    int64
	FrozenAssetType FrozenAssetType

	TimeInForce TimeInForce
	Status      OrderStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the order is still live on a book.
func (o *Order) IsActive() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// Trade is an immutable fill record.
type Trade struct {
	ID       string
	MarketID string

	BuyOrderID  string
	SellOrderID string
	BuyUserID   string
	SellUserID  string
	BuyBookType  BookType
	SellBookType BookType

	TakerOrderID string
	TakerUserID  string

	Scenario Scenario

	PriceCents int32
	Quantity   int32

	MakerFeeCents int64
	TakerFeeCents int64

	BuyerRealizedPnl  *int64
	SellerRealizedPnl *int64

	CreatedAt time.Time
}

// LedgerEntry is an append-only balance-changing journal row.
type LedgerEntry struct {
	ID                int64
	UserID            string
	EntryType         LedgerEntryType
	AmountCents       int64
	BalanceAfterCents int64
	ReferenceType     string
	ReferenceID       string
	Description       string
	CreatedAt         time.Time
}

// WALEvent is an append-only order-lifecycle audit row.
type WALEvent struct {
	ID        int64
	MarketID  string
	OrderID   string
	EventType WALEventType
	Payload   map[string]any
	CreatedAt time.Time
}

// Fill is one match produced by the matcher, prior to clearing.
type Fill struct {
	BuyOrderID   string
	SellOrderID  string
	BuyUserID    string
	SellUserID   string
	BuyBookType  BookType
	SellBookType BookType
	PriceCents   int32
	Quantity     int32
	TakerOrderID string
	TakerUserID  string
	// TakerBookType and TakerOriginalPriceCents are carried so the fee
	// collector (C11) can compute its base without re-reading the order:
	// the taker may have received price improvement, so its own original
	// price can differ from PriceCents (always the maker's book price).
	TakerBookType           BookType
	TakerOriginalPriceCents int32
}
