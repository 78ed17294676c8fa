// Copyright (c) 2025 BVK Chaitanya

// Package watcher implements the data model of the order engine: conditional
// orders and the per-token watchers that own them.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/gobs"
	"github.com/bvk/pancakebot/trigger"
	"github.com/shopspring/decimal"
)

type OrderID int64

// State is the order lifecycle state. Orders move PENDING -> TRIGGERED and
// from there to EXECUTED or FAILED, or back to PENDING after a recoverable
// execution failure. PENDING orders can also move to CANCELED.
type State string

const (
	Pending   State = "PENDING"
	Triggered State = "TRIGGERED"
	Executed  State = "EXECUTED"
	Failed    State = "FAILED"
	Canceled  State = "CANCELED"
)

// IsFinal returns true for states that exclude the order from evaluation
// forever.
func IsFinal(s State) bool {
	return s == Executed || s == Failed || s == Canceled
}

// ErrInFlight is reported when an operation conflicts with an execution
// attempt that has already been dispatched.
var ErrInFlight = errors.New("order has an execution attempt in flight")

// Amount specifies how much an order trades: an absolute quantity (native
// units for buys, token units for sells) or a percentage of the relevant
// balance. Percentages resolve at execution time, never at creation time.
type Amount struct {
	Value   decimal.Decimal
	Percent bool
}

func (a Amount) Check() error {
	if !a.Value.IsPositive() {
		return fmt.Errorf("amount %s must be positive", a.Value)
	}
	if a.Percent && a.Value.GreaterThan(d100) {
		return fmt.Errorf("amount %s%% cannot exceed 100%%", a.Value)
	}
	return nil
}

// Resolve returns the concrete trade size against the given balance.
func (a Amount) Resolve(balance decimal.Decimal) decimal.Decimal {
	if a.Percent {
		return balance.Mul(a.Value).Div(d100)
	}
	return a.Value
}

func (a Amount) String() string {
	if a.Percent {
		return a.Value.String() + "%"
	}
	return a.Value.String()
}

var d100 = decimal.NewFromInt(100)

// Order is a single conditional buy or sell instruction. All mutating
// methods serialize on the order's own lock; the state machine guarantees at
// most one in-flight execution attempt at any time.
type Order struct {
	mu sync.Mutex

	id        OrderID
	token     string
	side      dex.Side
	cond      trigger.Condition
	amount    Amount
	slippage  decimal.Decimal
	gas       dex.GasPolicy
	createdAt time.Time

	state State

	// attempts counts execution attempts dispatched so far; it seeds the
	// deterministic client id for each attempt.
	attempts uint64

	// transientFails counts failed attempts since the last success or reset,
	// for the retry ceiling.
	transientFails int
}

func NewOrder(id OrderID, token string, side dex.Side, cond trigger.Condition, amount Amount, slippagePct decimal.Decimal, gas dex.GasPolicy) (*Order, error) {
	o := &Order{
		id:        id,
		token:     token,
		side:      side,
		cond:      cond,
		amount:    amount,
		slippage:  slippagePct,
		gas:       gas,
		createdAt: time.Now(),
		state:     Pending,
	}
	if err := o.check(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Order) check() error {
	if o.id <= 0 {
		return fmt.Errorf("order id %d is invalid", o.id)
	}
	if len(o.token) == 0 {
		return fmt.Errorf("order token address cannot be empty")
	}
	if err := o.side.Check(); err != nil {
		return err
	}
	if err := o.cond.Check(); err != nil {
		return err
	}
	if err := o.amount.Check(); err != nil {
		return err
	}
	if o.slippage.IsNegative() || o.slippage.GreaterThanOrEqual(d100) {
		return fmt.Errorf("slippage percent %s is out of range", o.slippage)
	}
	return o.gas.Check()
}

func (o *Order) ID() OrderID          { return o.id }
func (o *Order) Token() string        { return o.token }
func (o *Order) Side() dex.Side       { return o.side }
func (o *Order) Amount() Amount       { return o.amount }
func (o *Order) Gas() dex.GasPolicy   { return o.gas }
func (o *Order) CreatedAt() time.Time { return o.createdAt }

func (o *Order) SlippagePct() decimal.Decimal { return o.slippage }

func (o *Order) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Condition returns a deep copy of the order's trigger condition.
func (o *Order) Condition() trigger.Condition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cond.Clone()
}

// LimitPrice returns the order's limit price, if it has one. Used for status
// ordering.
func (o *Order) LimitPrice() *decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cond.Limit == nil {
		return nil
	}
	v := *o.cond.Limit
	return &v
}

// SetAnchor records a new trailing-stop anchor.
func (o *Order) SetAnchor(anchor decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cond.Anchor = &anchor
}

// TryTrigger attempts the PENDING -> TRIGGERED transition and returns true
// if this caller won it. Exactly one caller can win between releases, which
// is what makes execution exactly-once: the engine only dispatches a swap
// after winning this transition.
func (o *Order) TryTrigger() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Pending {
		return false
	}
	o.state = Triggered
	o.attempts++
	return true
}

// Attempts returns the number of execution attempts dispatched so far.
func (o *Order) Attempts() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Release moves a TRIGGERED order back to PENDING after a recoverable
// execution failure and returns the number of consecutive recoverable
// failures seen so far.
func (o *Order) Release() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Triggered {
		panic(fmt.Sprintf("order %d: release in state %s", o.id, o.state))
	}
	o.state = Pending
	o.transientFails++
	return o.transientFails
}

// MarkExecuted finalizes a TRIGGERED order as successfully executed.
func (o *Order) MarkExecuted() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Triggered {
		return fmt.Errorf("order %d cannot be executed in state %s", o.id, o.state)
	}
	o.state = Executed
	return nil
}

// MarkFailed finalizes the order as failed. Valid from PENDING and
// TRIGGERED.
func (o *Order) MarkFailed() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if IsFinal(o.state) {
		return fmt.Errorf("order %d is already finalized as %s", o.id, o.state)
	}
	o.state = Failed
	return nil
}

// Cancel finalizes a PENDING order as canceled. Cancels race with the watch
// loop: once an execution attempt has been dispatched the cancel is rejected
// with ErrInFlight and the caller must wait for the attempt's outcome.
func (o *Order) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Pending:
		o.state = Canceled
		return nil
	case Triggered:
		return fmt.Errorf("order %d: %w", o.id, ErrInFlight)
	}
	return fmt.Errorf("order %d is already finalized as %s: %w", o.id, o.state, errors.ErrUnsupported)
}

func (o *Order) String() string {
	return fmt.Sprintf("order-%d:%s:%s", o.id, o.side, o.token)
}

func (o *Order) LogValue() slog.Value {
	return slog.StringValue(o.String())
}

// GobState converts the order to its persisted form.
func (o *Order) GobState() *gobs.OrderState {
	o.mu.Lock()
	defer o.mu.Unlock()

	gs := &gobs.OrderState{
		ID:          int64(o.id),
		Token:       o.token,
		Side:        string(o.side),
		Amount:      o.amount.Value,
		AmountIsPct: o.amount.Percent,
		SlippagePct: o.slippage,
		GasMode:     string(o.gas.Mode),
		GasGwei:     o.gas.Gwei,
		State:       string(o.state),
		CreatedAt:   o.createdAt,
	}
	if o.cond.Limit != nil {
		gs.LimitPrice, gs.HasLimit = *o.cond.Limit, true
	}
	if o.cond.Callback != nil {
		gs.CallbackPct, gs.HasCallback = *o.cond.Callback, true
	}
	if o.cond.Anchor != nil {
		gs.Anchor, gs.HasAnchor = *o.cond.Anchor, true
	}
	return gs
}

// OrderFromState rebuilds an order from its persisted form.
func OrderFromState(gs *gobs.OrderState) (*Order, error) {
	cond := trigger.Condition{}
	if gs.HasLimit {
		v := gs.LimitPrice
		cond.Limit = &v
	}
	if gs.HasCallback {
		v := gs.CallbackPct
		cond.Callback = &v
	}
	if gs.HasAnchor {
		v := gs.Anchor
		cond.Anchor = &v
	}

	o := &Order{
		id:        OrderID(gs.ID),
		token:     gs.Token,
		side:      dex.Side(gs.Side),
		cond:      cond,
		amount:    Amount{Value: gs.Amount, Percent: gs.AmountIsPct},
		slippage:  gs.SlippagePct,
		gas:       dex.GasPolicy{Mode: dex.GasMode(gs.GasMode), Gwei: gs.GasGwei},
		createdAt: gs.CreatedAt,
		state:     State(gs.State),
	}
	if err := o.check(); err != nil {
		return nil, err
	}
	switch o.state {
	case Pending, Triggered, Executed, Failed, Canceled:
	default:
		return nil, fmt.Errorf("order %d has invalid state %q", o.id, o.state)
	}
	return o, nil
}
