// Copyright (c) 2025 BVK Chaitanya

// Package order implements the conditional order subcommands.
package order

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/subcmds"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/visvasity/cli"
)

type Add struct {
	subcmds.DBFlags

	token string
	side  string

	limit    string
	callback string

	amount    string
	amountPct bool

	slippage string

	gasMode string
	gasGwei string
}

func (c *Add) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("command takes no arguments")
	}
	if !common.IsHexAddress(c.token) {
		return fmt.Errorf("%q is not a valid token address", c.token)
	}

	var side dex.Side
	switch strings.ToLower(c.side) {
	case "buy":
		side = dex.Buy
	case "sell":
		side = dex.Sell
	default:
		return fmt.Errorf("side must be buy or sell, not %q", c.side)
	}

	req := &engine.OrderRequest{
		Token:       common.HexToAddress(c.token).Hex(),
		Side:        side,
		AmountIsPct: c.amountPct,
	}

	if len(c.amount) == 0 {
		return fmt.Errorf("amount flag is required")
	}
	amount, err := decimal.NewFromString(c.amount)
	if err != nil {
		return fmt.Errorf("could not parse amount %q: %w", c.amount, err)
	}
	req.Amount = amount

	if len(c.limit) != 0 {
		limit, err := decimal.NewFromString(c.limit)
		if err != nil {
			return fmt.Errorf("could not parse limit price %q: %w", c.limit, err)
		}
		req.LimitPrice = &limit
	}
	if len(c.callback) != 0 {
		callback, err := decimal.NewFromString(c.callback)
		if err != nil {
			return fmt.Errorf("could not parse callback percent %q: %w", c.callback, err)
		}
		req.CallbackPct = &callback
	}
	if len(c.slippage) != 0 {
		slippage, err := decimal.NewFromString(c.slippage)
		if err != nil {
			return fmt.Errorf("could not parse slippage percent %q: %w", c.slippage, err)
		}
		req.SlippagePct = &slippage
	}

	switch strings.ToLower(c.gasMode) {
	case "", "network":
		req.Gas = dex.GasPolicy{Mode: dex.GasNetwork}
	case "offset", "fixed":
		gwei, err := decimal.NewFromString(c.gasGwei)
		if err != nil {
			return fmt.Errorf("could not parse gas gwei %q: %w", c.gasGwei, err)
		}
		mode := dex.GasOffset
		if strings.ToLower(c.gasMode) == "fixed" {
			mode = dex.GasFixed
		}
		req.Gas = dex.GasPolicy{Mode: mode, Gwei: gwei}
	default:
		return fmt.Errorf("gas mode must be network, offset or fixed, not %q", c.gasMode)
	}

	db, closer, err := c.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	eng, err := engine.New(ctx, db, nil, nil, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	o, err := eng.CreateOrder(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "created order %d: %s %s of %s when %s\n", o.ID(), o.Side(), o.Amount(), o.Token(), o.Condition())
	return nil
}

func (c *Add) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("add", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.StringVar(&c.token, "token", "", "address of the watched token")
	fset.StringVar(&c.side, "side", "", "order side; buy or sell")
	fset.StringVar(&c.limit, "limit", "", "limit price in BNB per token")
	fset.StringVar(&c.callback, "callback", "", "trailing-stop callback percent")
	fset.StringVar(&c.amount, "amount", "", "order size; BNB for buys, tokens for sells")
	fset.BoolVar(&c.amountPct, "amount-pct", false, "when true, amount is a percent of the live balance")
	fset.StringVar(&c.slippage, "slippage", "", "slippage percent; defaults to the token's setting")
	fset.StringVar(&c.gasMode, "gas-mode", "network", "gas pricing; network, offset or fixed")
	fset.StringVar(&c.gasGwei, "gas-gwei", "", "gwei value for the offset and fixed gas modes")
	return "add", fset, cli.CmdFunc(c.run)
}

func (c *Add) Purpose() string {
	return "Creates a conditional order against a watched token"
}

func (c *Add) Description() string {
	return `

Command "add" creates a conditional order. The limit and callback flags
select the order flavor:

  - neither flag makes a market order that fires on the next round;
  - limit alone fires when the price crosses the limit (at or below for
    buys, at or above for sells);
  - callback alone is a trailing-stop that fires when the price retraces
    by the callback percent from its best point;
  - both together arm the trailing-stop only after the limit is first
    satisfied.

`
}
