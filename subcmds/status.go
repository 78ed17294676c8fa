// Copyright (c) 2025 BVK Chaitanya

package subcmds

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/watcher"
	"github.com/visvasity/cli"
)

type Status struct {
	DBFlags

	all bool
}

func (c *Status) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("status", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.BoolVar(&c.all, "all", false, "when true, finalized orders are also printed")
	return "status", fset, cli.CmdFunc(c.run)
}

func (c *Status) Purpose() string {
	return "Status prints the watched tokens and their orders"
}

// run reads the database directly, so status works while the daemon is
// stopped. Prices are not printed; those need a node connection.
func (c *Status) run(ctx context.Context, args []string) error {
	db, closer, err := c.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	tokens, err := watcher.LoadTokens(ctx, db)
	if err != nil {
		return err
	}
	orders, err := watcher.LoadOrders(ctx, db, tokens)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "TOKEN\tADDRESS\tBUY-PRICE\tPOSITION\tORDERS\t\n")
	for _, t := range tokens {
		buyPrice, buyQty := t.Position()
		price := "-"
		if buyPrice.IsPositive() {
			price = buyPrice.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t\n", t.Symbol(), t.Address(), price, buyQty, t.NumOrders())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Println()

	views := make([]*engine.OrderView, 0, len(orders))
	for _, o := range orders {
		symbol := o.Token()
		if t, ok := tokens[o.Token()]; ok {
			symbol = t.Symbol()
		}
		cond := o.Condition()
		amount := o.Amount()
		views = append(views, &engine.OrderView{
			ID:          o.ID(),
			Token:       o.Token(),
			Symbol:      symbol,
			Side:        o.Side(),
			State:       o.State(),
			LimitPrice:  cond.Limit,
			CallbackPct: cond.Callback,
			Anchor:      cond.Anchor,
			Amount:      amount.Value,
			AmountIsPct: amount.Percent,
			SlippagePct: o.SlippagePct(),
			CreatedAt:   o.CreatedAt(),
		})
	}
	sortOrderViews(views)
	return printOrders(os.Stdout, views, c.all)
}
