// Copyright (c) 2025 BVK Chaitanya

package order

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/subcmds"
	"github.com/bvk/pancakebot/watcher"
	"github.com/visvasity/cli"
)

type List struct {
	subcmds.DBFlags

	all bool
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

	eng, err := engine.New(ctx, db, nil, nil, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	views := eng.OrderViews()

	tw := tabwriter.NewWriter(cli.Stdout(ctx), 0, 0, 4, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOKEN\tSIDE\tCONDITION\tAMOUNT\tSLIPPAGE\tSTATE")
	for _, o := range views {
		if !c.all && watcher.IsFinal(o.State) {
			continue
		}
		amount := o.Amount.String()
		if o.AmountIsPct {
			amount += "%"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s%%\t%s\n",
			o.ID, o.Symbol, o.Side, condition(o), amount, o.SlippagePct, o.State)
	}
	return tw.Flush()
}

func condition(o *engine.OrderView) string {
	switch {
	case o.LimitPrice != nil && o.CallbackPct != nil:
		return fmt.Sprintf("limit %s + trailing %s%%", o.LimitPrice, o.CallbackPct)
	case o.LimitPrice != nil:
		return fmt.Sprintf("limit %s", o.LimitPrice)
	case o.CallbackPct != nil:
		return fmt.Sprintf("trailing %s%%", o.CallbackPct)
	}
	return "market"
}

func (c *List) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.BoolVar(&c.all, "all", false, "when true, finalized orders are included")
	return "list", fset, cli.CmdFunc(c.run)
}

func (c *List) Purpose() string {
	return "Prints orders and their states"
}
