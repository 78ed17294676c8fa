// Copyright (c) 2025 BVK Chaitanya

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/watcher"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated   EventType = "order-created"
	EventOrderCanceled  EventType = "order-canceled"
	EventOrderTriggered EventType = "order-triggered"
	EventOrderExecuted  EventType = "order-executed"
	EventOrderFailed    EventType = "order-failed"
	EventOrderRetrying  EventType = "order-retrying"
	EventOrderStuck     EventType = "order-stuck"
	EventAnchorUpdated  EventType = "anchor-updated"
)

// Event describes a notable state change in the engine. Receipt and Err are
// set only for the event types they belong to.
type Event struct {
	Type  EventType
	At    time.Time
	Order *OrderView

	Price   decimal.Decimal
	Receipt *dex.Receipt
	Err     string
}

// OrderView is a read-only snapshot of an order for status displays and
// notifications.
type OrderView struct {
	ID     watcher.OrderID
	Token  string
	Symbol string
	Side   dex.Side
	State  watcher.State

	LimitPrice  *decimal.Decimal
	CallbackPct *decimal.Decimal
	Anchor      *decimal.Decimal

	Amount      decimal.Decimal
	AmountIsPct bool
	SlippagePct decimal.Decimal

	CreatedAt time.Time
}

func (v *OrderView) String() string {
	return fmt.Sprintf("order-%d:%s:%s:%s", v.ID, v.Side, v.Symbol, v.State)
}

func (e *Engine) orderView(o *watcher.Order) *OrderView {
	symbol := o.Token()
	e.mu.Lock()
	if t, ok := e.tokens[o.Token()]; ok {
		symbol = t.Symbol()
	}
	e.mu.Unlock()

	cond := o.Condition()
	amount := o.Amount()
	return &OrderView{
		ID:          o.ID(),
		Token:       o.Token(),
		Symbol:      symbol,
		Side:        o.Side(),
		State:       o.State(),
		LimitPrice:  cond.Limit,
		CallbackPct: cond.Callback,
		Anchor:      cond.Anchor,
		Amount:      amount.Value,
		AmountIsPct: amount.Percent,
		SlippagePct: o.SlippagePct(),
		CreatedAt:   o.CreatedAt(),
	}
}

// OrderViews returns snapshots of every known order, sorted by id.
func (e *Engine) OrderViews() []*OrderView {
	orders := e.Orders()
	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, e.orderView(o))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// TokenSummary reports a watched token's position and market state.
type TokenSummary struct {
	Address string
	Symbol  string
	Name    string
	Icon    string

	Balance decimal.Decimal
	Price   decimal.Decimal

	// Value is the current worth of the balance in native units.
	Value decimal.Decimal

	// BuyPrice is the effective (volume weighted) buy price; zero when
	// unknown.
	BuyPrice decimal.Decimal

	NumOrders int
}

// Summary reports the wallet's native balance and every watched token's
// position at current prices. Tokens whose price is unavailable report a
// zero price.
type Summary struct {
	At time.Time

	NativeBalance decimal.Decimal

	// NativePrice is the native coin price in the reference stable coin.
	NativePrice decimal.Decimal

	Tokens []*TokenSummary
}

// Summarize collects the current wallet and position overview.
func (e *Engine) Summarize(ctx context.Context) (*Summary, error) {
	s := &Summary{At: time.Now()}

	nb, err := e.oracle.NativeBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch native balance: %w", err)
	}
	s.NativeBalance = nb

	if np, err := e.oracle.NativePrice(ctx); err == nil {
		s.NativePrice = np
	}

	for _, t := range e.Tokens() {
		ts := &TokenSummary{
			Address:   t.Address(),
			Symbol:    t.Symbol(),
			Name:      t.Name(),
			Icon:      t.Icon(),
			NumOrders: t.NumOrders(),
		}
		ts.BuyPrice, _ = t.Position()

		if bal, err := e.oracle.TokenBalance(ctx, t.Address()); err == nil {
			ts.Balance = bal
		}
		if q, err := e.oracle.Quote(ctx, t.Address(), dex.Sell); err == nil {
			ts.Price = q.Price
			ts.Value = ts.Balance.Mul(q.Price)
		}
		s.Tokens = append(s.Tokens, ts)
	}
	return s, nil
}
