// Copyright (c) 2025 BVK Chaitanya

// Package token implements the token watch set subcommands.
package token

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/pancake"
	"github.com/bvk/pancakebot/subcmds"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/visvasity/cli"
)

type Add struct {
	subcmds.DBFlags

	secretsPath string
	envFile     string

	slippagePct float64
	icon        string
}

func (c *Add) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("needs one (token address) argument")
	}
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("%q is not a valid token address", args[0])
	}
	addr := common.HexToAddress(args[0])

	dataDir, err := c.ResolveDataDir()
	if err != nil {
		return err
	}
	if len(c.secretsPath) == 0 {
		c.secretsPath = filepath.Join(dataDir, "secrets.json")
	}
	secrets, err := subcmds.LoadSecrets(c.secretsPath, c.envFile)
	if err != nil {
		return err
	}

	client, err := pancake.New(ctx, secrets.BSC, nil)
	if err != nil {
		return err
	}
	md, err := client.FetchTokenMetadata(ctx, addr)
	if err != nil {
		return err
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

	t, err := eng.AddToken(ctx, md.Address.Hex(), md.Symbol, md.Name, c.icon, md.Decimals, decimal.NewFromFloat(c.slippagePct))
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "watching %s (%s) with %d decimals and %s%% default slippage\n", t.Symbol(), t.Address(), t.Decimals(), t.DefaultSlippagePct())
	return nil
}

func (c *Add) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("add", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.StringVar(&c.secretsPath, "secrets-file", "", "path to credentials file")
	fset.StringVar(&c.envFile, "env-file", "", "path to optional dotenv file with credentials")
	fset.Float64Var(&c.slippagePct, "slippage", 0.5, "default slippage percent for the token's orders")
	fset.StringVar(&c.icon, "icon", "", "emoji shown next to the token in notifications")
	return "add", fset, cli.CmdFunc(c.run)
}

func (c *Add) Purpose() string {
	return "Adds a BEP-20 token to the watch set"
}

func (c *Add) Description() string {
	return `

Command "add" resolves the token's symbol, name and decimals from its
contract and adds it to the watch set. Orders can then be placed against
the token with the "order add" subcommand.

`
}
