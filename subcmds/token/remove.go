// Copyright (c) 2025 BVK Chaitanya

package token

import (
	"context"
	"flag"
	"fmt"

	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/subcmds"
	"github.com/ethereum/go-ethereum/common"
	"github.com/visvasity/cli"
)

type Remove struct {
	subcmds.DBFlags
}

func (c *Remove) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("needs one (token address) argument")
	}
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("%q is not a valid token address", args[0])
	}
	addr := common.HexToAddress(args[0]).Hex()

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

	if err := eng.RemoveToken(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "stopped watching %s; its pending orders are canceled\n", addr)
	return nil
}

func (c *Remove) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("remove", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	return "remove", fset, cli.CmdFunc(c.run)
}

func (c *Remove) Purpose() string {
	return "Removes a token from the watch set, canceling its pending orders"
}
