// Copyright (c) 2025 BVK Chaitanya

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/watcher"
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

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

type fakeOracle struct {
	mu sync.Mutex

	prices   map[string]decimal.Decimal
	token    map[string]decimal.Decimal
	native   decimal.Decimal
	quoteErr error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		prices: make(map[string]decimal.Decimal),
		token:  make(map[string]decimal.Decimal),
		native: d("100"),
	}
}

func (f *fakeOracle) setPrice(token string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[token] = price
}

func (f *fakeOracle) setTokenBalance(token string, bal decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token[token] = bal
}

func (f *fakeOracle) Quote(ctx context.Context, token string, side dex.Side) (*dex.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	p, ok := f.prices[token]
	if !ok {
		return nil, dex.ErrPriceUnavailable
	}
	return &dex.Quote{Price: p, EffectivePrice: p, At: time.Now()}, nil
}

func (f *fakeOracle) TokenBalance(ctx context.Context, token string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token[token], nil
}

func (f *fakeOracle) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.native, nil
}

func (f *fakeOracle) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	return d("300"), nil
}

type fakeExecutor struct {
	mu sync.Mutex

	ntrades atomic.Int64
	trades  []*dex.Trade

	// fail returns the error for the next execution, or nil for success.
	fail func(*dex.Trade) error
}

func (f *fakeExecutor) Execute(ctx context.Context, trade *dex.Trade) (*dex.Receipt, error) {
	f.ntrades.Add(1)
	f.mu.Lock()
	f.trades = append(f.trades, trade)
	fail := f.fail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(trade); err != nil {
			return nil, err
		}
	}
	return &dex.Receipt{
		TxHash:      fmt.Sprintf("0xtx-%s", trade.ClientID),
		FilledSize:  trade.Amount,
		FilledValue: trade.Amount.Mul(d("2")),
		UnitPrice:   d("2"),
		At:          time.Now(),
	}, nil
}

func (f *fakeExecutor) lastTrade() *dex.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trades) == 0 {
		return nil
	}
	return f.trades[len(f.trades)-1]
}

const testToken = "0xCAFE"

func newTestEngine(t *testing.T, oracle *fakeOracle, executor *fakeExecutor) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, kvmemdb.New(), oracle, executor, &Options{TickInterval: time.Hour, MaxTransientFails: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	if _, err := e.AddToken(ctx, testToken, "CAKE", "PancakeSwap Token", "🥞", 18, d("0.5")); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestLimitSellFires(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	o, err := e.CreateOrder(ctx, &OrderRequest{
		Token:      testToken,
		Side:       dex.Sell,
		LimitPrice: ptr(d("2.0")),
		Amount:     d("10"),
	})
	if err != nil {
		t.Fatal(err)
	}

	oracle.setPrice(testToken, d("1.5"))
	e.Tick(ctx)
	if got := o.State(); got != watcher.Pending {
		t.Fatalf("state = %s below limit", got)
	}

	oracle.setPrice(testToken, d("2.1"))
	e.Tick(ctx)
	if got := o.State(); got != watcher.Executed {
		t.Fatalf("state = %s above limit", got)
	}
	if n := executor.ntrades.Load(); n != 1 {
		t.Fatalf("executed %d trades", n)
	}
}

func TestExactlyOnceUnderConcurrentTicks(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	if _, err := e.CreateOrder(ctx, &OrderRequest{
		Token:  testToken,
		Side:   dex.Sell,
		Amount: d("10"),
	}); err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("1.0"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Tick(ctx)
		}()
	}
	wg.Wait()
	// Coalesced ticks may have skipped; run one more to be sure the order
	// was actually evaluated.
	e.Tick(ctx)

	if n := executor.ntrades.Load(); n != 1 {
		t.Fatalf("executed %d trades, want exactly 1", n)
	}
}

func TestPercentAmountResolvesAtExecution(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	// Balance at creation time is 100; it drops to 40 before the order
	// fires. A 50% sell must resolve to 20, not 50.
	oracle.setTokenBalance(testToken, d("100"))
	if _, err := e.CreateOrder(ctx, &OrderRequest{
		Token:       testToken,
		Side:        dex.Sell,
		LimitPrice:  ptr(d("2.0")),
		Amount:      d("50"),
		AmountIsPct: true,
	}); err != nil {
		t.Fatal(err)
	}

	oracle.setTokenBalance(testToken, d("40"))
	oracle.setPrice(testToken, d("2.5"))
	e.Tick(ctx)

	trade := executor.lastTrade()
	if trade == nil {
		t.Fatal("no trade executed")
	}
	if want := d("20"); !trade.Amount.Equal(want) {
		t.Fatalf("trade amount = %s, want %s", trade.Amount, want)
	}
}

func TestTransientFailureRetries(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	failOnce := true
	executor.fail = func(*dex.Trade) error {
		if failOnce {
			failOnce = false
			return dex.NewExecError(dex.Transient, errors.New("rpc timeout"))
		}
		return nil
	}

	o, err := e.CreateOrder(ctx, &OrderRequest{
		Token:  testToken,
		Side:   dex.Sell,
		Amount: d("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("1.0"))

	e.Tick(ctx)
	if got := o.State(); got != watcher.Pending {
		t.Fatalf("state = %s after a recoverable failure, want PENDING", got)
	}

	e.Tick(ctx)
	if got := o.State(); got != watcher.Executed {
		t.Fatalf("state = %s after retry, want EXECUTED", got)
	}
	if n := executor.ntrades.Load(); n != 2 {
		t.Fatalf("executed %d trades, want 2", n)
	}
}

func TestTransientCeilingFinalizesFailed(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor) // MaxTransientFails: 2

	executor.fail = func(*dex.Trade) error {
		return dex.NewExecError(dex.Transient, errors.New("rpc timeout"))
	}

	o, err := e.CreateOrder(ctx, &OrderRequest{
		Token:  testToken,
		Side:   dex.Sell,
		Amount: d("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("1.0"))

	e.Tick(ctx)
	e.Tick(ctx)
	if got := o.State(); got != watcher.Failed {
		t.Fatalf("state = %s after hitting retry ceiling, want FAILED", got)
	}

	// Failed orders leave the token's active set and never fire again.
	e.Tick(ctx)
	if n := executor.ntrades.Load(); n != 2 {
		t.Fatalf("executed %d trades after finalization, want 2", n)
	}
}

func TestTerminalFailureNoRetry(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	executor.fail = func(*dex.Trade) error {
		return dex.NewExecError(dex.InsufficientFunds, errors.New("balance too low"))
	}

	o, err := e.CreateOrder(ctx, &OrderRequest{
		Token:  testToken,
		Side:   dex.Buy,
		Amount: d("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("1.0"))

	e.Tick(ctx)
	if got := o.State(); got != watcher.Failed {
		t.Fatalf("state = %s after terminal failure, want FAILED", got)
	}
	if n := executor.ntrades.Load(); n != 1 {
		t.Fatalf("executed %d trades, want 1", n)
	}
}

func TestCancelSemantics(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	o, err := e.CreateOrder(ctx, &OrderRequest{
		Token:      testToken,
		Side:       dex.Sell,
		LimitPrice: ptr(d("2.0")),
		Amount:     d("10"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.CancelOrder(ctx, o.ID()); err != nil {
		t.Fatal(err)
	}
	if got := o.State(); got != watcher.Canceled {
		t.Fatalf("state = %s after cancel", got)
	}

	// A canceled order never fires.
	oracle.setPrice(testToken, d("3.0"))
	e.Tick(ctx)
	if n := executor.ntrades.Load(); n != 0 {
		t.Fatalf("canceled order executed %d trades", n)
	}

	if err := e.CancelOrder(ctx, 999); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cancel of unknown order: %v, want ErrNotExist", err)
	}
}

func TestBuyUpdatesEffectiveBuyPrice(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	if _, err := e.CreateOrder(ctx, &OrderRequest{
		Token:  testToken,
		Side:   dex.Buy,
		Amount: d("10"),
	}); err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("2.0"))
	e.Tick(ctx)

	tok, err := e.Token(testToken)
	if err != nil {
		t.Fatal(err)
	}
	price, qty := tok.Position()
	if !price.Equal(d("2")) || !qty.Equal(d("10")) {
		t.Fatalf("position %s@%s after buy", qty, price)
	}
}

func TestSellOutClearsPosition(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	tok, err := e.Token(testToken)
	if err != nil {
		t.Fatal(err)
	}
	tok.RecordBuyExecution(d("10"), d("1.0"))
	oracle.setTokenBalance(testToken, d("10"))

	// The swap drains the wallet, so the post-sell balance check sees zero.
	executor.fail = func(*dex.Trade) error {
		oracle.setTokenBalance(testToken, decimal.Zero)
		return nil
	}

	o, err := e.CreateOrder(ctx, &OrderRequest{
		Token:       testToken,
		Side:        dex.Sell,
		Amount:      d("100"),
		AmountIsPct: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("2.0"))
	e.Tick(ctx)

	if got := o.State(); got != watcher.Executed {
		t.Fatalf("state = %s, want EXECUTED", got)
	}
	price, qty := tok.Position()
	if !price.IsZero() || !qty.IsZero() {
		t.Fatalf("sell out left position %s@%s", qty, price)
	}
}

func TestReplayReconstruction(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	db := kvmemdb.New()

	e1, err := New(ctx, db, oracle, executor, &Options{TickInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e1.AddToken(ctx, testToken, "CAKE", "PancakeSwap Token", "", 18, d("0.5")); err != nil {
		t.Fatal(err)
	}
	o, err := e1.CreateOrder(ctx, &OrderRequest{
		Token:       testToken,
		Side:        dex.Sell,
		LimitPrice:  ptr(d("2.0")),
		CallbackPct: ptr(d("10")),
		Amount:      d("5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Arm the trailing stop so the anchor gets persisted.
	oracle.setPrice(testToken, d("2.5"))
	e1.Tick(ctx)
	if got := o.State(); got != watcher.Pending {
		t.Fatalf("state = %s after arming, want PENDING", got)
	}
	e1.Close()

	e2, err := New(ctx, db, oracle, executor, &Options{TickInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	ro, err := e2.Order(o.ID())
	if err != nil {
		t.Fatal(err)
	}
	cond := ro.Condition()
	if cond.Anchor == nil || !cond.Anchor.Equal(d("2.5")) {
		t.Fatalf("replayed anchor = %v, want 2.5", cond.Anchor)
	}

	// The replayed trailing stop fires on a 10% retracement from the
	// persisted anchor.
	oracle.setPrice(testToken, d("2.2"))
	e2.Tick(ctx)
	if got := ro.State(); got != watcher.Executed {
		t.Fatalf("replayed order state = %s, want EXECUTED", got)
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	receiver, err := e.Events()
	if err != nil {
		t.Fatal(err)
	}
	defer receiver.Close()

	if _, err := e.CreateOrder(ctx, &OrderRequest{
		Token:  testToken,
		Side:   dex.Sell,
		Amount: d("10"),
	}); err != nil {
		t.Fatal(err)
	}
	oracle.setPrice(testToken, d("1.0"))
	e.Tick(ctx)

	want := []EventType{EventOrderCreated, EventOrderTriggered, EventOrderExecuted}
	for _, wtype := range want {
		ev, err := receiver.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type != wtype {
			t.Fatalf("event type = %s, want %s", ev.Type, wtype)
		}
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle()
	executor := &fakeExecutor{}
	e := newTestEngine(t, oracle, executor)

	oracle.setPrice(testToken, d("2"))
	oracle.setTokenBalance(testToken, d("3"))

	s, err := e.Summarize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !s.NativeBalance.Equal(d("100")) {
		t.Fatalf("native balance = %s", s.NativeBalance)
	}
	if len(s.Tokens) != 1 {
		t.Fatalf("token summaries = %d", len(s.Tokens))
	}
	if want := d("6"); !s.Tokens[0].Value.Equal(want) {
		t.Fatalf("token value = %s, want %s", s.Tokens[0].Value, want)
	}
}
