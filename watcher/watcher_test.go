// Copyright (c) 2025 BVK Chaitanya

package watcher

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/trigger"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestToken(t *testing.T) *Token {
	t.Helper()
	tok, err := NewToken("0xCAFE", "CAKE", "PancakeSwap Token", "🥞", 18, d("0.5"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newTestOrder(t *testing.T, id OrderID, side dex.Side, cond trigger.Condition) *Order {
	t.Helper()
	o, err := NewOrder(id, "0xCAFE", side, cond, Amount{Value: d("10")}, d("0.5"), dex.DefaultGasPolicy())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestEffectiveBuyPrice(t *testing.T) {
	tok := newTestToken(t)

	tok.RecordBuyExecution(d("100"), d("1.0"))
	tok.RecordBuyExecution(d("50"), d("1.3"))

	price, qty := tok.Position()
	if want := d("1.1"); !price.Equal(want) {
		t.Fatalf("effective buy price = %s, want %s", price, want)
	}
	if want := d("150"); !qty.Equal(want) {
		t.Fatalf("position qty = %s, want %s", qty, want)
	}

	tok.RecordSellExecution(d("50"))
	price, qty = tok.Position()
	if !price.Equal(d("1.1")) {
		t.Fatalf("partial sell changed buy price to %s", price)
	}
	if !qty.Equal(d("100")) {
		t.Fatalf("position qty after partial sell = %s", qty)
	}

	tok.RecordFullSellOut()
	price, qty = tok.Position()
	if !price.IsZero() || !qty.IsZero() {
		t.Fatalf("sell out left position %s@%s", qty, price)
	}
}

func TestSellBelowTrackedPosition(t *testing.T) {
	tok := newTestToken(t)
	tok.RecordBuyExecution(d("10"), d("2.0"))
	tok.RecordSellExecution(d("25"))

	price, qty := tok.Position()
	if !price.IsZero() || !qty.IsZero() {
		t.Fatalf("over-sell left position %s@%s", qty, price)
	}
}

func TestAddRemoveOrders(t *testing.T) {
	tok := newTestToken(t)
	o1 := newTestOrder(t, 1, dex.Buy, trigger.Condition{Limit: ptr(d("1.5"))})

	if err := tok.AddOrder(o1); err != nil {
		t.Fatal(err)
	}
	if err := tok.AddOrder(o1); !errors.Is(err, os.ErrExist) {
		t.Fatalf("duplicate add: %v, want ErrExist", err)
	}

	other, err := NewOrder(2, "0xBEEF", dex.Sell, trigger.Condition{}, Amount{Value: d("1")}, d("0.5"), dex.DefaultGasPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if err := tok.AddOrder(other); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("mismatched token add: %v, want ErrInvalid", err)
	}

	if err := tok.RemoveOrder(5); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unknown remove: %v, want ErrNotExist", err)
	}
	if err := tok.RemoveOrder(1); err != nil {
		t.Fatal(err)
	}
	if n := tok.NumOrders(); n != 0 {
		t.Fatalf("order count = %d after remove", n)
	}
}

func TestOrdersSnapshotOrdering(t *testing.T) {
	tok := newTestToken(t)

	limitLow := newTestOrder(t, 1, dex.Sell, trigger.Condition{Limit: ptr(d("1.0"))})
	market := newTestOrder(t, 2, dex.Sell, trigger.Condition{})
	limitHigh := newTestOrder(t, 3, dex.Sell, trigger.Condition{Limit: ptr(d("2.0"))})
	for _, o := range []*Order{limitLow, market, limitHigh} {
		if err := tok.AddOrder(o); err != nil {
			t.Fatal(err)
		}
	}

	vs := tok.OrdersSnapshot()
	want := []OrderID{2, 3, 1}
	for i, o := range vs {
		if o.ID() != want[i] {
			t.Fatalf("snapshot[%d] = order %d, want %d", i, o.ID(), want[i])
		}
	}
}

func TestOrderLifecycle(t *testing.T) {
	o := newTestOrder(t, 1, dex.Sell, trigger.Condition{Limit: ptr(d("2.0"))})

	if got := o.State(); got != Pending {
		t.Fatalf("new order state = %s", got)
	}
	if !o.TryTrigger() {
		t.Fatal("first TryTrigger lost")
	}
	if o.TryTrigger() {
		t.Fatal("second TryTrigger won while TRIGGERED")
	}
	if err := o.Cancel(); !errors.Is(err, ErrInFlight) {
		t.Fatalf("cancel while triggered: %v, want ErrInFlight", err)
	}

	if n := o.Release(); n != 1 {
		t.Fatalf("release count = %d", n)
	}
	if got := o.State(); got != Pending {
		t.Fatalf("released order state = %s", got)
	}

	if !o.TryTrigger() {
		t.Fatal("retrigger lost after release")
	}
	if err := o.MarkExecuted(); err != nil {
		t.Fatal(err)
	}
	if o.TryTrigger() {
		t.Fatal("TryTrigger won on executed order")
	}
	if err := o.Cancel(); err == nil {
		t.Fatal("cancel succeeded on executed order")
	}
	if got := o.Attempts(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestCancelPending(t *testing.T) {
	o := newTestOrder(t, 1, dex.Buy, trigger.Condition{Limit: ptr(d("1.0"))})
	if err := o.Cancel(); err != nil {
		t.Fatal(err)
	}
	if got := o.State(); got != Canceled {
		t.Fatalf("state = %s after cancel", got)
	}
	if o.TryTrigger() {
		t.Fatal("TryTrigger won on canceled order")
	}
}

func TestMarkFailed(t *testing.T) {
	o := newTestOrder(t, 1, dex.Sell, trigger.Condition{})
	if !o.TryTrigger() {
		t.Fatal("TryTrigger lost")
	}
	if err := o.MarkFailed(); err != nil {
		t.Fatal(err)
	}
	if err := o.MarkFailed(); err == nil {
		t.Fatal("double MarkFailed succeeded")
	}
}

func TestPersistenceRoundtrip(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()

	tok := newTestToken(t)
	tok.RecordBuyExecution(d("100"), d("1.25"))

	cond := trigger.Condition{
		Limit:    ptr(d("2.0")),
		Callback: ptr(d("10")),
		Anchor:   ptr(d("2.5")),
	}
	o := newTestOrder(t, 7, dex.Sell, cond)

	if err := SaveToken(ctx, db, tok); err != nil {
		t.Fatal(err)
	}
	if err := SaveOrder(ctx, db, o); err != nil {
		t.Fatal(err)
	}

	tmap, err := LoadTokens(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	loaded, ok := tmap["0xCAFE"]
	if !ok {
		t.Fatal("token not reloaded")
	}
	price, qty := loaded.Position()
	if !price.Equal(d("1.25")) || !qty.Equal(d("100")) {
		t.Fatalf("reloaded position %s@%s", qty, price)
	}

	omap, err := LoadOrders(ctx, db, tmap)
	if err != nil {
		t.Fatal(err)
	}
	ro, ok := omap[7]
	if !ok {
		t.Fatal("order not reloaded")
	}
	rc := ro.Condition()
	if rc.Anchor == nil || !rc.Anchor.Equal(d("2.5")) {
		t.Fatalf("reloaded anchor = %v", rc.Anchor)
	}
	if n := loaded.NumOrders(); n != 1 {
		t.Fatalf("reloaded token has %d orders", n)
	}
	if got := MaxOrderID(omap); got != 7 {
		t.Fatalf("max order id = %d", got)
	}
}

func TestFinalOrdersNotReattached(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()

	tok := newTestToken(t)
	o := newTestOrder(t, 1, dex.Buy, trigger.Condition{Limit: ptr(d("1.0"))})
	if err := o.Cancel(); err != nil {
		t.Fatal(err)
	}

	if err := SaveToken(ctx, db, tok); err != nil {
		t.Fatal(err)
	}
	if err := SaveOrder(ctx, db, o); err != nil {
		t.Fatal(err)
	}

	tmap, err := LoadTokens(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	omap, err := LoadOrders(ctx, db, tmap)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := omap[1]; !ok {
		t.Fatal("canceled order missing from order map")
	}
	if n := tmap["0xCAFE"].NumOrders(); n != 0 {
		t.Fatalf("canceled order attached to token (%d orders)", n)
	}
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
