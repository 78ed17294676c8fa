// Copyright (c) 2025 BVK Chaitanya

// Package gobs holds gob-encoded types persisted in the database. Only add
// fields to these types; old databases must remain readable.
package gobs

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenState is the persisted form of a watched token.
type TokenState struct {
	Address  string
	Symbol   string
	Name     string
	Icon     string
	Decimals int32

	DefaultSlippagePct decimal.Decimal

	// BuyPrice is the volume-weighted average unit cost (after taxes)
	// established by buy executions. BuyQty is the accumulated size backing
	// that average. Both are zero when there is no open position.
	BuyPrice decimal.Decimal
	BuyQty   decimal.Decimal
}

// OrderState is the persisted form of a single conditional order. One record
// per order; terminal orders keep their record so order ids stay unique and
// past orders remain queryable.
type OrderState struct {
	ID    int64
	Token string
	Side  string

	LimitPrice  decimal.Decimal
	HasLimit    bool
	CallbackPct decimal.Decimal
	HasCallback bool
	Anchor      decimal.Decimal
	HasAnchor   bool

	Amount      decimal.Decimal
	AmountIsPct bool

	SlippagePct decimal.Decimal

	GasMode string
	GasGwei decimal.Decimal

	State     string
	CreatedAt time.Time
}

// NotifyState remembers the chat ids learned from authorized telegram users.
type NotifyState struct {
	UserChatIDMap map[string]int64
}

// KeyValue is used by database export/import tooling.
type KeyValue struct {
	Key   string
	Value []byte
}
