// Copyright (c) 2025 BVK Chaitanya

// Package dex defines the interfaces the order engine uses to talk to a
// decentralized exchange: price quoting, balance lookups and swap execution.
// Implementations live in exchange-specific packages.
package dex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Check() error {
	if s != Buy && s != Sell {
		return fmt.Errorf("side %q is invalid", string(s))
	}
	return nil
}

// ErrPriceUnavailable is reported by oracles when a token has no usable
// price, either cause the liquidity pool is too small or the node is
// unreachable.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is a point-in-time price observation for one token.
type Quote struct {
	// Price is the pool spot price in native units per token.
	Price decimal.Decimal

	// EffectivePrice is the realizable unit price after swap fees and any
	// transfer taxes the token contract applies.
	EffectivePrice decimal.Decimal

	At time.Time
}

// Oracle reports prices and balances. All methods are safe for concurrent
// use.
type Oracle interface {
	// Quote returns the current price for trading the token in the given
	// direction. Fails with ErrPriceUnavailable when the token's pool is
	// below the configured minimum size or cannot be reached.
	Quote(ctx context.Context, token string, side Side) (*Quote, error)

	// TokenBalance returns the wallet's balance of the token, in token units.
	TokenBalance(ctx context.Context, token string) (decimal.Decimal, error)

	// NativeBalance returns the wallet's native-currency balance.
	NativeBalance(ctx context.Context) (decimal.Decimal, error)

	// NativePrice returns a reference price for the native currency in a
	// stable unit of account.
	NativePrice(ctx context.Context) (decimal.Decimal, error)
}

// Trade is a fully-resolved swap instruction. Amount is in native units for
// buys and in token units for sells; percentage amounts are resolved by the
// engine before an executor ever sees the trade.
type Trade struct {
	// ClientID identifies the execution attempt. Repeated attempts for the
	// same order carry distinct, deterministic ids.
	ClientID uuid.UUID

	Token string
	Side  Side

	Amount decimal.Decimal

	SlippagePct decimal.Decimal

	Gas GasPolicy
}

func (t *Trade) Check() error {
	if err := t.Side.Check(); err != nil {
		return err
	}
	if len(t.Token) == 0 {
		return fmt.Errorf("trade token address cannot be empty")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("trade amount %s must be positive", t.Amount)
	}
	if t.SlippagePct.IsNegative() || t.SlippagePct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("slippage percent %s is out of range", t.SlippagePct)
	}
	return t.Gas.Check()
}

func (t *Trade) String() string {
	return fmt.Sprintf("%s:%s:%s", t.Side, t.Token, t.Amount)
}

func (t *Trade) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

// Receipt describes a successfully executed swap.
type Receipt struct {
	TxHash string

	// FilledSize is the token amount bought or sold. FilledValue is the
	// native-currency amount paid or received.
	FilledSize  decimal.Decimal
	FilledValue decimal.Decimal

	// UnitPrice is the realized native-per-token price, after taxes.
	UnitPrice decimal.Decimal

	GasUsed uint64

	At time.Time
}

// Executor performs swaps. Execute either returns a receipt or fails with a
// *ExecError carrying the failure classification.
type Executor interface {
	Execute(ctx context.Context, trade *Trade) (*Receipt, error)
}
