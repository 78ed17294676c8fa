// Copyright (c) 2025 BVK Chaitanya

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/idgen"
	"github.com/bvk/pancakebot/trigger"
	"github.com/bvk/pancakebot/watcher"
	"github.com/shopspring/decimal"
)

// Run evaluates all watched tokens every TickInterval until the context is
// canceled. Ticks never overlap: when an evaluation round outlasts the
// interval, intermediate ticks are dropped.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("started the order engine", "tick-interval", e.opts.TickInterval, "max-parallel", e.opts.MaxParallel)

	// Evaluate once at startup so restarts don't wait a full interval.
	e.Tick(ctx)

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping the order engine", "quit-reason", context.Cause(ctx))
			return context.Cause(ctx)
		case <-e.closeCtx.Done():
			return context.Cause(e.closeCtx)
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one evaluation round over all watched tokens. Concurrent calls
// coalesce: callers that find a round in progress return immediately.
func (e *Engine) Tick(ctx context.Context) {
	if !e.tickBusy.TryLock() {
		slog.Warn("previous evaluation round is still running; skipping this tick")
		return
	}
	defer e.tickBusy.Unlock()

	tokens := e.Tokens()

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.opts.MaxParallel)
	for _, t := range tokens {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		e.wg.Add(1)
		go func(t *watcher.Token) {
			defer wg.Done()
			defer e.wg.Done()
			defer func() { <-sem }()
			e.tickToken(ctx, t)
		}(t)
	}
	wg.Wait()
}

// tickToken fetches one quote for the token and evaluates every pending
// order against it. Fired orders execute sequentially within this call, so
// each token has a single writer for its position accounting.
func (e *Engine) tickToken(ctx context.Context, t *watcher.Token) {
	orders := t.OrdersSnapshot()
	if len(orders) == 0 {
		return
	}

	// Spot price is direction independent; the quote side only matters for
	// the effective price, which execution refetches anyway.
	quote, err := e.oracle.Quote(ctx, t.Address(), dex.Sell)
	if err != nil {
		slog.Warn("could not fetch token price (will retry next tick)", "token", t, "err", err)
		return
	}
	price := quote.Price

	for _, o := range orders {
		if o.State() != watcher.Pending {
			continue
		}

		d := trigger.Evaluate(o.Side(), ptrCondition(o), price)
		switch d.Action {
		case trigger.Hold:

		case trigger.UpdateAnchor:
			o.SetAnchor(d.Anchor)
			if err := watcher.SaveOrder(ctx, e.db, o); err != nil {
				slog.Error("could not save updated trailing anchor (will retry)", "order", o, "err", err)
			}
			slog.Info("trailing anchor ratcheted", "order", o, "anchor", d.Anchor, "price", price)
			e.sendEvent(&Event{Type: EventAnchorUpdated, Order: e.orderView(o), Price: price})

		case trigger.Fire:
			if !o.TryTrigger() {
				continue
			}
			if err := watcher.SaveOrder(ctx, e.db, o); err != nil {
				// The attempt proceeds; a crash before the swap resolves
				// leaves the order PENDING and it will fire again.
				slog.Error("could not save triggered order", "order", o, "err", err)
			}
			slog.Info("order condition fired", "order", o, "price", price)
			e.sendEvent(&Event{Type: EventOrderTriggered, Order: e.orderView(o), Price: price})
			e.execute(ctx, t, o)
		}
	}
}

func ptrCondition(o *watcher.Order) *trigger.Condition {
	c := o.Condition()
	return &c
}

// execute runs one swap attempt for a triggered order and settles its
// outcome: EXECUTED on success, back to PENDING on a recoverable failure
// under the retry ceiling, FAILED otherwise.
func (e *Engine) execute(ctx context.Context, t *watcher.Token, o *watcher.Order) {
	size, err := e.resolveAmount(ctx, t, o)
	if err != nil {
		slog.Warn("could not resolve order amount (will retry next tick)", "order", o, "err", err)
		e.settleFailure(ctx, t, o, dex.NewExecError(dex.Transient, err))
		return
	}

	// Each attempt carries a deterministic client id so a repeated dispatch
	// of the same attempt is recognizable downstream.
	gen := idgen.New(fmt.Sprintf("%s/order/%d", o.Token(), o.ID()), 0)
	trade := &dex.Trade{
		ClientID:    gen.At(o.Attempts() - 1),
		Token:       o.Token(),
		Side:        o.Side(),
		Amount:      size,
		SlippagePct: o.SlippagePct(),
		Gas:         o.Gas(),
	}

	execCtx, cancel := context.WithTimeout(ctx, e.opts.ExecTimeout)
	receipt, err := e.executor.Execute(execCtx, trade)
	cancel()
	if err != nil {
		e.settleFailure(ctx, t, o, err)
		return
	}
	e.settleSuccess(ctx, t, o, receipt)
}

// resolveAmount converts the order's amount into a concrete trade size.
// Percentages resolve against the wallet balance at execution time: native
// balance for buys, token balance for sells.
func (e *Engine) resolveAmount(ctx context.Context, t *watcher.Token, o *watcher.Order) (decimal.Decimal, error) {
	amount := o.Amount()
	if !amount.Percent {
		return amount.Value, nil
	}

	var balance decimal.Decimal
	var err error
	if o.Side() == dex.Buy {
		balance, err = e.oracle.NativeBalance(ctx)
	} else {
		balance, err = e.oracle.TokenBalance(ctx, t.Address())
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not fetch balance for %s: %w", o, err)
	}

	size := amount.Resolve(balance)
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("balance %s resolves order %d to a zero size", balance, o.ID())
	}
	return size, nil
}

func (e *Engine) settleSuccess(ctx context.Context, t *watcher.Token, o *watcher.Order, receipt *dex.Receipt) {
	if err := o.MarkExecuted(); err != nil {
		slog.Error("could not finalize executed order", "order", o, "err", err)
		return
	}

	switch o.Side() {
	case dex.Buy:
		t.RecordBuyExecution(receipt.FilledSize, receipt.UnitPrice)
	case dex.Sell:
		t.RecordSellExecution(receipt.FilledSize)
		if bal, err := e.oracle.TokenBalance(ctx, t.Address()); err == nil && bal.IsZero() {
			t.RecordFullSellOut()
		}
	}

	e.finishOrder(o)
	if err := watcher.SaveOrder(ctx, e.db, o); err != nil {
		slog.Error("could not save executed order", "order", o, "err", err)
	}
	if err := watcher.SaveToken(ctx, e.db, t); err != nil {
		slog.Error("could not save token accounting", "token", t, "err", err)
	}

	slog.Info("order executed", "order", o, "tx", receipt.TxHash, "filled", receipt.FilledSize, "price", receipt.UnitPrice)
	e.sendEvent(&Event{Type: EventOrderExecuted, Order: e.orderView(o), Receipt: receipt})
}

func (e *Engine) settleFailure(ctx context.Context, t *watcher.Token, o *watcher.Order, err error) {
	if dex.IsTransient(err) {
		nfails := o.Release()
		if nfails < e.opts.MaxTransientFails {
			slog.Warn("order execution failed; order stays pending", "order", o, "nfails", nfails, "err", err)
			e.sendEvent(&Event{Type: EventOrderRetrying, Order: e.orderView(o), Err: err.Error()})
			if serr := watcher.SaveOrder(ctx, e.db, o); serr != nil {
				slog.Error("could not save released order", "order", o, "err", serr)
			}
			return
		}
		// Retry ceiling reached; fall through and finalize as failed.
	}

	if ferr := o.MarkFailed(); ferr != nil {
		slog.Error("could not finalize failed order", "order", o, "err", ferr)
		return
	}
	e.finishOrder(o)
	if serr := watcher.SaveOrder(ctx, e.db, o); serr != nil {
		slog.Error("could not save failed order", "order", o, "err", serr)
	}

	slog.Error("order failed permanently", "order", o, "err", err)
	e.sendEvent(&Event{Type: EventOrderFailed, Order: e.orderView(o), Err: err.Error()})
}
