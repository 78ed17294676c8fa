// Copyright (c) 2025 BVK Chaitanya

package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bvk/pancakebot/gobs"
	"github.com/shopspring/decimal"
)

// marketSortPrice stands in for the missing limit price of market orders so
// that they sort ahead of every limit order in status displays.
var marketSortPrice = decimal.New(1, 12)

// Token watches one token: it owns the token's metadata, its effective buy
// price accounting and the set of orders placed against it. All mutating
// access serializes on the token's lock; the watch loop additionally
// guarantees a single writer per token per tick.
type Token struct {
	mu sync.Mutex

	address  string
	symbol   string
	name     string
	icon     string
	decimals int32

	defaultSlippage decimal.Decimal

	// buyPrice is the volume-weighted average cost of the position in native
	// units per token; buyQty is the quantity it was computed over. Both
	// reset to zero when the position is fully sold out.
	buyPrice decimal.Decimal
	buyQty   decimal.Decimal

	orders   []*Order
	orderMap map[OrderID]*Order
}

func NewToken(address, symbol, name, icon string, decimals int32, defaultSlippagePct decimal.Decimal) (*Token, error) {
	t := &Token{
		address:         address,
		symbol:          symbol,
		name:            name,
		icon:            icon,
		decimals:        decimals,
		defaultSlippage: defaultSlippagePct,
		orderMap:        make(map[OrderID]*Order),
	}
	if err := t.check(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) check() error {
	if len(t.address) == 0 {
		return fmt.Errorf("token address cannot be empty")
	}
	if len(t.symbol) == 0 {
		return fmt.Errorf("token symbol cannot be empty")
	}
	if t.decimals < 0 || t.decimals > 30 {
		return fmt.Errorf("token decimals %d is out of range", t.decimals)
	}
	if t.defaultSlippage.IsNegative() || t.defaultSlippage.GreaterThanOrEqual(d100) {
		return fmt.Errorf("default slippage percent %s is out of range", t.defaultSlippage)
	}
	return nil
}

func (t *Token) Address() string { return t.address }
func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Name() string    { return t.name }
func (t *Token) Icon() string    { return t.icon }
func (t *Token) Decimals() int32 { return t.decimals }

func (t *Token) DefaultSlippagePct() decimal.Decimal { return t.defaultSlippage }

// Position returns the effective buy price and the quantity it was computed
// over. The buy price is zero when no buys were recorded or after a full
// sell out.
func (t *Token) Position() (buyPrice, buyQty decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buyPrice, t.buyQty
}

// AddOrder registers an order with the token. Duplicate ids report
// os.ErrExist; an order for a different token address reports os.ErrInvalid.
func (t *Token) AddOrder(o *Order) error {
	if o.Token() != t.address {
		return fmt.Errorf("order %d is for token %s, not %s: %w", o.ID(), o.Token(), t.address, os.ErrInvalid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orderMap[o.ID()]; ok {
		return fmt.Errorf("order %d already exists on token %s: %w", o.ID(), t.symbol, os.ErrExist)
	}
	t.orders = append(t.orders, o)
	t.orderMap[o.ID()] = o
	return nil
}

// RemoveOrder unregisters an order. Unknown ids report os.ErrNotExist.
func (t *Token) RemoveOrder(id OrderID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orderMap[id]; !ok {
		return fmt.Errorf("order %d not found on token %s: %w", id, t.symbol, os.ErrNotExist)
	}
	delete(t.orderMap, id)
	for i, o := range t.orders {
		if o.ID() == id {
			t.orders = append(t.orders[:i], t.orders[i+1:]...)
			break
		}
	}
	return nil
}

// Order returns the order with the given id, if any.
func (t *Token) Order(id OrderID) (*Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orderMap[id]
	return o, ok
}

// NumOrders returns the count of registered orders.
func (t *Token) NumOrders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}

// OrdersSnapshot returns the registered orders sorted by limit price in
// descending order, with market orders ahead of every limit order. Orders
// with equal sort prices keep their insertion order.
func (t *Token) OrdersSnapshot() []*Order {
	t.mu.Lock()
	vs := make([]*Order, len(t.orders))
	copy(vs, t.orders)
	t.mu.Unlock()

	sortPrice := func(o *Order) decimal.Decimal {
		if p := o.LimitPrice(); p != nil {
			return *p
		}
		return marketSortPrice
	}
	sort.SliceStable(vs, func(i, j int) bool {
		return sortPrice(vs[i]).GreaterThan(sortPrice(vs[j]))
	})
	return vs
}

// RecordBuyExecution folds a filled buy into the volume-weighted effective
// buy price.
func (t *Token) RecordBuyExecution(filledQty, unitPrice decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !filledQty.IsPositive() {
		return
	}
	newQty := t.buyQty.Add(filledQty)
	cost := t.buyPrice.Mul(t.buyQty).Add(unitPrice.Mul(filledQty))
	t.buyPrice = cost.Div(newQty)
	t.buyQty = newQty
}

// RecordSellExecution reduces the tracked position by the filled quantity.
// The effective buy price is unchanged: selling part of a position does not
// alter the average cost of what remains.
func (t *Token) RecordSellExecution(filledQty decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buyQty = t.buyQty.Sub(filledQty)
	if !t.buyQty.IsPositive() {
		t.buyQty = decimal.Zero
		t.buyPrice = decimal.Zero
	}
}

// RecordFullSellOut clears the position accounting after the wallet balance
// reaches zero.
func (t *Token) RecordFullSellOut() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buyQty = decimal.Zero
	t.buyPrice = decimal.Zero
}

func (t *Token) String() string {
	return fmt.Sprintf("token-%s:%s", t.symbol, t.address)
}

func (t *Token) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

// GobState converts the token to its persisted form. Orders persist
// separately under their own keys.
func (t *Token) GobState() *gobs.TokenState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &gobs.TokenState{
		Address:            t.address,
		Symbol:             t.symbol,
		Name:               t.name,
		Icon:               t.icon,
		Decimals:           t.decimals,
		DefaultSlippagePct: t.defaultSlippage,
		BuyPrice:           t.buyPrice,
		BuyQty:             t.buyQty,
	}
}

// TokenFromState rebuilds a token from its persisted form.
func TokenFromState(gs *gobs.TokenState) (*Token, error) {
	t := &Token{
		address:         gs.Address,
		symbol:          gs.Symbol,
		name:            gs.Name,
		icon:            gs.Icon,
		decimals:        gs.Decimals,
		defaultSlippage: gs.DefaultSlippagePct,
		buyPrice:        gs.BuyPrice,
		buyQty:          gs.BuyQty,
		orderMap:        make(map[OrderID]*Order),
	}
	if err := t.check(); err != nil {
		return nil, err
	}
	return t, nil
}
