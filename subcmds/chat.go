// Copyright (c) 2025 BVK Chaitanya

package subcmds

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/watcher"
	"github.com/visvasity/cli"
)

// addChatCommands exposes a few engine inspection and control operations as
// telegram chat commands.
func addChatCommands(ctx context.Context, notifier interface {
	AddCommand(context.Context, string, string, cli.CmdFunc) error
}, eng *engine.Engine) error {

	status := func(ctx context.Context, args []string) error {
		summary, err := eng.Summarize(ctx)
		if err != nil {
			return err
		}
		return printSummary(cli.Stdout(ctx), summary)
	}
	if err := notifier.AddCommand(ctx, "status", "Prints wallet and position summary", status); err != nil {
		return err
	}

	orders := func(ctx context.Context, args []string) error {
		return printOrders(cli.Stdout(ctx), eng.OrderViews(), false /* all */)
	}
	if err := notifier.AddCommand(ctx, "orders", "Prints open orders", orders); err != nil {
		return err
	}

	cancel := func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("this command takes one (order id) argument")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid order id %q: %w", args[0], err)
		}
		if err := eng.CancelOrder(ctx, watcher.OrderID(id)); err != nil {
			return err
		}
		fmt.Fprintf(cli.Stdout(ctx), "canceled order %d", id)
		return nil
	}
	return notifier.AddCommand(ctx, "cancel", "Cancels a pending order by id", cancel)
}

func printSummary(w io.Writer, s *engine.Summary) error {
	fmt.Fprintf(w, "BNB balance: %s", s.NativeBalance.StringFixed(4))
	if s.NativePrice.IsPositive() {
		fmt.Fprintf(w, " (%s BUSD)", s.NativeBalance.Mul(s.NativePrice).StringFixed(2))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "TOKEN\tBALANCE\tPRICE\tVALUE\tBUY-PRICE\tORDERS\t\n")
	for _, t := range s.Tokens {
		buyPrice := "-"
		if t.BuyPrice.IsPositive() {
			buyPrice = t.BuyPrice.String()
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\t%s\t%d\t\n",
			t.Icon, t.Symbol, t.Balance, t.Price, t.Value.StringFixed(4), buyPrice, t.NumOrders)
	}
	return tw.Flush()
}

func printOrders(w io.Writer, orders []*engine.OrderView, all bool) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTOKEN\tSIDE\tTYPE\tAMOUNT\tSTATE\t\n")
	for _, o := range orders {
		if !all && watcher.IsFinal(o.State) {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			o.ID, o.Symbol, o.Side, orderType(o), orderAmount(o), o.State)
	}
	return tw.Flush()
}

func sortOrderViews(views []*engine.OrderView) {
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
}

func orderType(o *engine.OrderView) string {
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

func orderAmount(o *engine.OrderView) string {
	if o.AmountIsPct {
		return o.Amount.String() + "%"
	}
	return o.Amount.String()
}
