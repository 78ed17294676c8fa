// Copyright (c) 2025 BVK Chaitanya

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bvk/pancakebot/engine"
	"github.com/visvasity/topic"
)

// Watch forwards engine events to the configured receivers until the
// receiver or the context is closed.
func (c *Client) Watch(ctx context.Context, events *topic.Receiver[*engine.Event]) {
	c.cg.Go(func(cctx context.Context) {
		stopf := context.AfterFunc(ctx, events.Close)
		defer stopf()
		stopc := context.AfterFunc(cctx, events.Close)
		defer stopc()

		for {
			ev, err := events.Receive()
			if err != nil {
				slog.Info("event stream is closed; notifier is stopping")
				return
			}
			if err := c.SendMessage(cctx, ev.At, Format(ev)); err != nil {
				slog.Error("could not send event notification (ignored)", "event", ev.Type, "err", err)
			}
		}
	})
}

// Format renders an engine event as a short chat message.
func Format(ev *engine.Event) string {
	o := ev.Order
	var sb strings.Builder

	switch ev.Type {
	case engine.EventOrderCreated:
		fmt.Fprintf(&sb, "Created order #%d: %s %s %s", o.ID, o.Side, amountString(o), o.Symbol)
		if o.LimitPrice != nil {
			fmt.Fprintf(&sb, " at limit %s", o.LimitPrice)
		}
		if o.CallbackPct != nil {
			fmt.Fprintf(&sb, " trailing %s%%", o.CallbackPct)
		}
	case engine.EventOrderCanceled:
		fmt.Fprintf(&sb, "Canceled order #%d (%s %s)", o.ID, o.Side, o.Symbol)
	case engine.EventOrderTriggered:
		fmt.Fprintf(&sb, "Order #%d fired: %s %s %s at price %s", o.ID, o.Side, amountString(o), o.Symbol, ev.Price)
	case engine.EventOrderExecuted:
		fmt.Fprintf(&sb, "Order #%d executed: %s %s %s", o.ID, o.Side, ev.Receipt.FilledSize, o.Symbol)
		fmt.Fprintf(&sb, " at %s (tx %s)", ev.Receipt.UnitPrice, ev.Receipt.TxHash)
	case engine.EventOrderFailed:
		fmt.Fprintf(&sb, "Order #%d FAILED: %s %s: %s", o.ID, o.Side, o.Symbol, ev.Err)
	case engine.EventOrderRetrying:
		fmt.Fprintf(&sb, "Order #%d execution failed (will retry): %s", o.ID, ev.Err)
	case engine.EventOrderStuck:
		fmt.Fprintf(&sb, "Order #%d was mid-execution at last shutdown; verify on-chain and resolve manually", o.ID)
	case engine.EventAnchorUpdated:
		fmt.Fprintf(&sb, "Order #%d trailing anchor moved to %s", o.ID, ev.Price)
	default:
		fmt.Fprintf(&sb, "%s: order #%d", ev.Type, o.ID)
	}
	return sb.String()
}

func amountString(o *engine.OrderView) string {
	if o.AmountIsPct {
		return o.Amount.String() + "%"
	}
	return o.Amount.String()
}
