// Copyright (c) 2025 BVK Chaitanya

// Package engine implements the order engine: it owns the watched tokens and
// their conditional orders, runs the periodic watch loop and dispatches
// triggered orders to the swap executor.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/trigger"
	"github.com/bvk/pancakebot/watcher"
	"github.com/bvkgo/kv"
	"github.com/shopspring/decimal"
	"github.com/visvasity/topic"
)

type Options struct {
	// TickInterval is the delay between price evaluation rounds.
	TickInterval time.Duration

	// MaxParallel bounds the number of tokens evaluated concurrently within
	// one tick.
	MaxParallel int

	// ExecTimeout bounds a single swap execution attempt.
	ExecTimeout time.Duration

	// MaxTransientFails is the number of consecutive recoverable execution
	// failures after which an order is finalized as FAILED.
	MaxTransientFails int
}

func (v *Options) setDefaults() {
	if v.TickInterval == 0 {
		v.TickInterval = 30 * time.Second
	}
	if v.MaxParallel == 0 {
		v.MaxParallel = 4
	}
	if v.ExecTimeout == 0 {
		v.ExecTimeout = 2 * time.Minute
	}
	if v.MaxTransientFails == 0 {
		v.MaxTransientFails = 5
	}
}

func (v *Options) Check() error {
	if v.TickInterval < 0 || v.MaxParallel < 0 || v.ExecTimeout < 0 || v.MaxTransientFails < 0 {
		return os.ErrInvalid
	}
	return nil
}

type Engine struct {
	closeCtx   context.Context
	closeCause context.CancelCauseFunc
	wg         sync.WaitGroup

	opts Options

	db       kv.Database
	oracle   dex.Oracle
	executor dex.Executor

	eventsTopic *topic.Topic[*Event]

	// tickBusy is held while a tick is in progress; ticks that arrive while
	// it is held are skipped, not queued.
	tickBusy sync.Mutex

	mu     sync.Mutex
	tokens map[string]*watcher.Token
	orders map[watcher.OrderID]*watcher.Order
	lastID watcher.OrderID
}

// New creates the engine, replaying all tokens and orders from the database.
// Orders found in the TRIGGERED state are kept TRIGGERED and excluded from
// evaluation: an execution attempt was dispatched for them before a crash
// and retrying it blindly could double-spend.
func New(ctx context.Context, db kv.Database, oracle dex.Oracle, executor dex.Executor, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = new(Options)
	}
	if err := opts.Check(); err != nil {
		return nil, err
	}
	opts.setDefaults()

	tokens, err := watcher.LoadTokens(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("could not load tokens: %w", err)
	}
	orders, err := watcher.LoadOrders(ctx, db, tokens)
	if err != nil {
		return nil, fmt.Errorf("could not load orders: %w", err)
	}

	closeCtx, closeCause := context.WithCancelCause(context.Background())
	e := &Engine{
		closeCtx:    closeCtx,
		closeCause:  closeCause,
		opts:        *opts,
		db:          db,
		oracle:      oracle,
		executor:    executor,
		eventsTopic: topic.New[*Event](),
		tokens:      tokens,
		orders:      orders,
		lastID:      watcher.MaxOrderID(orders),
	}

	for _, o := range orders {
		if o.State() == watcher.Triggered {
			slog.Warn("order was mid-execution at last shutdown; needs manual resolution", "order", o)
			e.sendEvent(&Event{Type: EventOrderStuck, Order: e.orderView(o)})
		}
	}
	return e, nil
}

func (e *Engine) Close() error {
	e.closeCause(os.ErrClosed)
	e.wg.Wait()
	e.eventsTopic.Close()
	return nil
}

// Events subscribes to the engine's event stream.
func (e *Engine) Events() (*topic.Receiver[*Event], error) {
	return topic.Subscribe(e.eventsTopic, 0, false /* includeRecent */)
}

func (e *Engine) sendEvent(ev *Event) {
	ev.At = time.Now()
	e.eventsTopic.Send(ev)
}

// AddToken begins watching a token. Watching the same address twice reports
// os.ErrExist.
func (e *Engine) AddToken(ctx context.Context, address, symbol, name, icon string, decimals int32, defaultSlippagePct decimal.Decimal) (*watcher.Token, error) {
	t, err := watcher.NewToken(address, symbol, name, icon, decimals, defaultSlippagePct)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, ok := e.tokens[address]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("token %s is already watched: %w", address, os.ErrExist)
	}
	e.tokens[address] = t
	e.mu.Unlock()

	if err := watcher.SaveToken(ctx, e.db, t); err != nil {
		e.mu.Lock()
		delete(e.tokens, address)
		e.mu.Unlock()
		return nil, fmt.Errorf("could not save token %s: %w", address, err)
	}
	slog.Info("added token to the watch set", "token", t)
	return t, nil
}

// RemoveToken stops watching a token, canceling its pending orders. Tokens
// with an order mid-execution cannot be removed until the attempt resolves.
func (e *Engine) RemoveToken(ctx context.Context, address string) error {
	e.mu.Lock()
	t, ok := e.tokens[address]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("token %s is not watched: %w", address, os.ErrNotExist)
	}

	for _, o := range t.OrdersSnapshot() {
		if o.State() == watcher.Triggered {
			return fmt.Errorf("token %s: order %d: %w", address, o.ID(), watcher.ErrInFlight)
		}
	}
	for _, o := range t.OrdersSnapshot() {
		if err := o.Cancel(); err != nil {
			return fmt.Errorf("could not cancel order %d: %w", o.ID(), err)
		}
		_ = t.RemoveOrder(o.ID())
		if err := watcher.SaveOrder(ctx, e.db, o); err != nil {
			return fmt.Errorf("could not save canceled order %d: %w", o.ID(), err)
		}
		e.sendEvent(&Event{Type: EventOrderCanceled, Order: e.orderView(o)})
	}

	e.mu.Lock()
	delete(e.tokens, address)
	e.mu.Unlock()

	if err := watcher.DeleteToken(ctx, e.db, address); err != nil {
		return fmt.Errorf("could not delete token %s: %w", address, err)
	}
	slog.Info("removed token from the watch set", "token", t)
	return nil
}

// Token returns the watched token at the given address.
func (e *Engine) Token(address string) (*watcher.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tokens[address]
	if !ok {
		return nil, fmt.Errorf("token %s is not watched: %w", address, os.ErrNotExist)
	}
	return t, nil
}

// Tokens returns all watched tokens.
func (e *Engine) Tokens() []*watcher.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	vs := make([]*watcher.Token, 0, len(e.tokens))
	for _, t := range e.tokens {
		vs = append(vs, t)
	}
	return vs
}

// OrderRequest describes a new conditional order.
type OrderRequest struct {
	Token string
	Side  dex.Side

	// LimitPrice and CallbackPct select the order flavor: limit alone is a
	// limit order, callback alone is a trailing-stop, both together is a
	// trailing-stop that arms only after the limit is first satisfied, and
	// neither is a market order.
	LimitPrice  *decimal.Decimal
	CallbackPct *decimal.Decimal

	Amount      decimal.Decimal
	AmountIsPct bool

	// SlippagePct falls back to the token's default when nil.
	SlippagePct *decimal.Decimal

	Gas dex.GasPolicy
}

// CreateOrder registers a new order against a watched token.
func (e *Engine) CreateOrder(ctx context.Context, req *OrderRequest) (*watcher.Order, error) {
	e.mu.Lock()
	t, ok := e.tokens[req.Token]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("token %s is not watched: %w", req.Token, os.ErrNotExist)
	}
	e.lastID++
	id := e.lastID
	e.mu.Unlock()

	slippage := t.DefaultSlippagePct()
	if req.SlippagePct != nil {
		slippage = *req.SlippagePct
	}
	gas := req.Gas
	if gas.Mode == "" {
		gas = dex.DefaultGasPolicy()
	}

	cond := trigger.Condition{Limit: req.LimitPrice, Callback: req.CallbackPct}
	o, err := watcher.NewOrder(id, req.Token, req.Side, cond, watcher.Amount{Value: req.Amount, Percent: req.AmountIsPct}, slippage, gas)
	if err != nil {
		return nil, err
	}

	if err := t.AddOrder(o); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.orders[id] = o
	e.mu.Unlock()

	if err := watcher.SaveOrder(ctx, e.db, o); err != nil {
		_ = t.RemoveOrder(id)
		e.mu.Lock()
		delete(e.orders, id)
		e.mu.Unlock()
		return nil, fmt.Errorf("could not save order %d: %w", id, err)
	}

	slog.Info("created new order", "order", o, "condition", o.Condition().String(), "amount", o.Amount())
	e.sendEvent(&Event{Type: EventOrderCreated, Order: e.orderView(o)})
	return o, nil
}

// CancelOrder cancels a pending order. Orders with an execution attempt in
// flight report watcher.ErrInFlight; retry after the attempt resolves.
func (e *Engine) CancelOrder(ctx context.Context, id watcher.OrderID) error {
	e.mu.Lock()
	o, ok := e.orders[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("order %d not found: %w", id, os.ErrNotExist)
	}

	if err := o.Cancel(); err != nil {
		return err
	}
	e.mu.Lock()
	if t, ok := e.tokens[o.Token()]; ok {
		_ = t.RemoveOrder(id)
	}
	e.mu.Unlock()

	if err := watcher.SaveOrder(ctx, e.db, o); err != nil {
		return fmt.Errorf("could not save canceled order %d: %w", id, err)
	}
	slog.Info("canceled order", "order", o)
	e.sendEvent(&Event{Type: EventOrderCanceled, Order: e.orderView(o)})
	return nil
}

// Order returns the order with the given id, including finalized ones.
func (e *Engine) Order(id watcher.OrderID) (*watcher.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d not found: %w", id, os.ErrNotExist)
	}
	return o, nil
}

// Orders returns all orders known to the engine, including finalized ones.
func (e *Engine) Orders() []*watcher.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	vs := make([]*watcher.Order, 0, len(e.orders))
	for _, o := range e.orders {
		vs = append(vs, o)
	}
	return vs
}

// finishOrder removes a finalized order from its token's active set. The
// order stays in the engine's order map for status queries.
func (e *Engine) finishOrder(o *watcher.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tokens[o.Token()]; ok {
		_ = t.RemoveOrder(o.ID())
	}
}
