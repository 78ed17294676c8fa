// Copyright (c) 2025 BVK Chaitanya

package dex

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// GasMode selects how an order's transactions price their gas.
type GasMode string

const (
	// GasNetwork uses the node's suggested gas price at execution time.
	GasNetwork GasMode = "NETWORK"

	// GasOffset uses the suggested price plus a fixed gwei bump, to get
	// ahead of same-block competition.
	GasOffset GasMode = "OFFSET"

	// GasFixed uses an explicit gwei price.
	GasFixed GasMode = "FIXED"
)

type GasPolicy struct {
	Mode GasMode

	// Gwei is the offset for GasOffset mode and the absolute price for
	// GasFixed mode. Unused for GasNetwork.
	Gwei decimal.Decimal
}

// DefaultGasPolicy follows the network's suggested gas price.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{Mode: GasNetwork}
}

func (g GasPolicy) Check() error {
	switch g.Mode {
	case GasNetwork:
		return nil
	case GasOffset:
		if g.Gwei.IsNegative() {
			return fmt.Errorf("gas price offset %s cannot be negative", g.Gwei)
		}
		return nil
	case GasFixed:
		if !g.Gwei.IsPositive() {
			return fmt.Errorf("fixed gas price %s must be positive", g.Gwei)
		}
		return nil
	case "":
		return fmt.Errorf("gas mode cannot be empty")
	}
	return fmt.Errorf("gas mode %q is invalid", string(g.Mode))
}

func (g GasPolicy) String() string {
	switch g.Mode {
	case GasNetwork:
		return "network"
	case GasOffset:
		return fmt.Sprintf("network+%sgwei", g.Gwei)
	case GasFixed:
		return fmt.Sprintf("%sgwei", g.Gwei)
	}
	return string(g.Mode)
}
