// Copyright (c) 2025 BVK Chaitanya

package order

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/subcmds"
	"github.com/bvk/pancakebot/watcher"
	"github.com/visvasity/cli"
)

type Cancel struct {
	subcmds.DBFlags
}

func (c *Cancel) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("needs one (order id) argument")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("could not parse order id %q: %w", args[0], err)
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

	if err := eng.CancelOrder(ctx, watcher.OrderID(id)); err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "canceled order %d\n", id)
	return nil
}

func (c *Cancel) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("cancel", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	return "cancel", fset, cli.CmdFunc(c.run)
}

func (c *Cancel) Purpose() string {
	return "Cancels a pending order"
}
