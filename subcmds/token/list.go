// Copyright (c) 2025 BVK Chaitanya

package token

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/bvk/pancakebot/subcmds"
	"github.com/bvk/pancakebot/watcher"
	"github.com/visvasity/cli"
)

type List struct {
	subcmds.DBFlags
}

func (c *List) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("command takes no arguments")
	}

	db, closer, err := c.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	tokens, err := watcher.LoadTokens(ctx, db)
	if err != nil {
		return err
	}
	if _, err := watcher.LoadOrders(ctx, db, tokens); err != nil {
		return err
	}

	vs := make([]*watcher.Token, 0, len(tokens))
	for _, t := range tokens {
		vs = append(vs, t)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].Symbol() < vs[j].Symbol() })

	tw := tabwriter.NewWriter(cli.Stdout(ctx), 0, 0, 4, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tADDRESS\tDECIMALS\tSLIPPAGE\tBUY-PRICE\tPOSITION\tORDERS")
	for _, t := range vs {
		buyPrice, buyQty := t.Position()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s%%\t%s\t%s\t%d\n", t.Symbol(), t.Address(), t.Decimals(), t.DefaultSlippagePct(), buyPrice, buyQty, t.NumOrders())
	}
	return tw.Flush()
}

func (c *List) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	return "list", fset, cli.CmdFunc(c.run)
}

func (c *List) Purpose() string {
	return "Prints the watched tokens"
}
