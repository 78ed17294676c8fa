// Copyright (c) 2025 BVK Chaitanya

// Package trigger implements the pure decision logic for conditional orders.
// Evaluate inspects one order condition against one price observation and
// returns a decision; it never mutates anything, so the caller owns applying
// anchor updates and serializing state changes.
package trigger

import (
	"fmt"
	"log/slog"

	"github.com/bvk/pancakebot/dex"
	"github.com/shopspring/decimal"
)

var d100 = decimal.NewFromInt(100)

// Condition is the trigger rule for one order.
//
// A nil Limit with a nil Callback is a market condition and fires on the next
// evaluation. A non-nil Limit alone is a limit condition. A non-nil Callback
// makes the order a trailing stop: the Anchor ratchets with favorable price
// movement and the order fires when price retraces past the callback rate.
// When both Limit and Callback are set, the trailing mechanism arms only
// after the limit condition has first been satisfied.
type Condition struct {
	// Limit is the target unit price. Buy orders require price <= limit,
	// sell orders price >= limit.
	Limit *decimal.Decimal

	// Callback is the trailing-stop retracement rate in percent.
	Callback *decimal.Decimal

	// Anchor is the trailing ratchet reference. Nil until the trailing
	// mechanism arms; once armed it survives even if the price re-crosses
	// the limit.
	Anchor *decimal.Decimal
}

func (c *Condition) Check() error {
	if c.Limit != nil && !c.Limit.IsPositive() {
		return fmt.Errorf("limit price %s must be positive", c.Limit)
	}
	if c.Callback != nil {
		if !c.Callback.IsPositive() || c.Callback.GreaterThanOrEqual(d100) {
			return fmt.Errorf("callback rate %s must be in (0, 100)", c.Callback)
		}
	}
	if c.Anchor != nil {
		if c.Callback == nil {
			return fmt.Errorf("anchor is set without a callback rate")
		}
		if !c.Anchor.IsPositive() {
			return fmt.Errorf("anchor price %s must be positive", c.Anchor)
		}
	}
	return nil
}

// Trailing returns true when the condition includes a trailing stop.
func (c *Condition) Trailing() bool {
	return c.Callback != nil
}

// Armed returns true when the trailing ratchet is tracking prices.
func (c *Condition) Armed() bool {
	return c.Anchor != nil
}

// Clone returns a deep copy, so snapshots cannot alias the original's
// pointer fields.
func (c *Condition) Clone() Condition {
	clone := Condition{}
	if c.Limit != nil {
		v := *c.Limit
		clone.Limit = &v
	}
	if c.Callback != nil {
		v := *c.Callback
		clone.Callback = &v
	}
	if c.Anchor != nil {
		v := *c.Anchor
		clone.Anchor = &v
	}
	return clone
}

func (c Condition) String() string {
	switch {
	case c.Callback != nil && c.Limit != nil:
		return fmt.Sprintf("limit %s + trailing %s%%", c.Limit, c.Callback)
	case c.Callback != nil:
		return fmt.Sprintf("trailing %s%%", c.Callback)
	case c.Limit != nil:
		return fmt.Sprintf("limit %s", c.Limit)
	}
	return "market"
}

func (c Condition) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

type Action int

const (
	Hold Action = iota
	Fire
	UpdateAnchor
)

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Fire:
		return "fire"
	case UpdateAnchor:
		return "update-anchor"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is the outcome of one evaluation. Anchor is meaningful only when
// Action is UpdateAnchor.
type Decision struct {
	Action Action
	Anchor decimal.Decimal
}

// Evaluate decides what to do with an order given the current price.
//
// Ratcheting and firing are mutually exclusive within one evaluation: when
// the anchor improves, the decision is UpdateAnchor even if the retracement
// threshold would also be crossed. A trailing condition with no anchor yet
// initializes the anchor instead of firing, so a trailing stop never fires on
// its first observation.
func Evaluate(side dex.Side, c *Condition, price decimal.Decimal) Decision {
	if !c.Trailing() {
		if limitSatisfied(side, c.Limit, price) {
			return Decision{Action: Fire}
		}
		return Decision{Action: Hold}
	}

	if !c.Armed() {
		// The trailing stop arms when its (possibly absent) limit price is
		// first reached.
		if !limitSatisfied(side, c.Limit, price) {
			return Decision{Action: Hold}
		}
		return Decision{Action: UpdateAnchor, Anchor: price}
	}

	anchor, callback := *c.Anchor, *c.Callback
	if side == dex.Sell {
		if price.GreaterThan(anchor) {
			return Decision{Action: UpdateAnchor, Anchor: price}
		}
		stop := anchor.Mul(decimal.NewFromInt(1).Sub(callback.Div(d100)))
		if price.LessThanOrEqual(stop) {
			return Decision{Action: Fire}
		}
		return Decision{Action: Hold}
	}

	if price.LessThan(anchor) {
		return Decision{Action: UpdateAnchor, Anchor: price}
	}
	stop := anchor.Mul(decimal.NewFromInt(1).Add(callback.Div(d100)))
	if price.GreaterThanOrEqual(stop) {
		return Decision{Action: Fire}
	}
	return Decision{Action: Hold}
}

// limitSatisfied reports whether the price has crossed the limit in the
// direction favorable to the user. A nil limit means market and is always
// satisfied.
func limitSatisfied(side dex.Side, limit *decimal.Decimal, price decimal.Decimal) bool {
	if limit == nil {
		return true
	}
	if side == dex.Buy {
		return price.LessThanOrEqual(*limit)
	}
	return price.GreaterThanOrEqual(*limit)
}
