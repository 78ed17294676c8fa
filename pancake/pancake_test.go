// Copyright (c) 2025 BVK Chaitanya

package pancake

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Well known throwaway key; never holds funds.
const testWalletKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	testToken = common.HexToAddress("0x0000000000000000000000000000000000000CAF")
	testPair  = common.HexToAddress("0x0000000000000000000000000000000000000Abc")
	busdPair  = common.HexToAddress("0x0000000000000000000000000000000000000DEF")
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func bnb(s string) *big.Int {
	return toWei(d(s), 18)
}

// fakeBackend answers contract calls from in-memory pool state. Swaps move
// the wallet balances by preset deltas.
type fakeBackend struct {
	mu sync.Mutex

	tokenReserve *big.Int
	wbnbReserve  *big.Int

	busdReserve     *big.Int
	busdWBNBReserve *big.Int

	tokenBalance  *big.Int
	nativeBalance *big.Int
	allowance     *big.Int

	// Deltas applied to wallet balances when a router swap is sent.
	buyYield  *big.Int
	sellYield *big.Int

	txs           []*types.Transaction
	receiptStatus uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tokenReserve:    toWei(d("1000"), 18),
		wbnbReserve:     bnb("100"),
		busdReserve:     bnb("30000"),
		busdWBNBReserve: bnb("100"),
		tokenBalance:    new(big.Int),
		nativeBalance:   bnb("10"),
		allowance:       maxApproval,
		buyYield:        toWei(d("10"), 18),
		sellYield:       bnb("0.5"),
		receiptStatus:   types.ReceiptStatusSuccessful,
	}
}

func methodByID(contract abi.ABI, id []byte) (abi.Method, bool) {
	for _, m := range contract.Methods {
		if bytes.Equal(m.ID, id) {
			return m, true
		}
	}
	return abi.Method{}, false
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := call.Data[:4]
	for _, contract := range []abi.ABI{erc20Contract, factoryContract, pairContract, routerContract} {
		m, ok := methodByID(contract, id)
		if !ok {
			continue
		}
		return f.answer(call, m)
	}
	return nil, errors.New("unknown contract method")
}

func (f *fakeBackend) answer(call ethereum.CallMsg, m abi.Method) ([]byte, error) {
	switch m.Name {
	case "symbol":
		return m.Outputs.Pack("TST")
	case "name":
		return m.Outputs.Pack("Test Token")
	case "decimals":
		return m.Outputs.Pack(uint8(18))
	case "balanceOf":
		return m.Outputs.Pack(f.tokenBalance)
	case "allowance":
		return m.Outputs.Pack(f.allowance)
	case "getPair":
		args, err := m.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		if args[0].(common.Address) == WBNBAddress {
			return m.Outputs.Pack(busdPair)
		}
		return m.Outputs.Pack(testPair)
	case "token0":
		if *call.To == busdPair {
			return m.Outputs.Pack(WBNBAddress)
		}
		return m.Outputs.Pack(testToken)
	case "getReserves":
		if *call.To == busdPair {
			return m.Outputs.Pack(f.busdWBNBReserve, f.busdReserve, uint32(0))
		}
		return m.Outputs.Pack(f.tokenReserve, f.wbnbReserve, uint32(0))
	case "getAmountsOut":
		args, err := m.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		amountIn := args[0].(*big.Int)
		// A one-to-one route keeps minimum output math easy to verify.
		return m.Outputs.Pack([]*big.Int{amountIn, amountIn})
	}
	return nil, errors.New("unhandled method " + m.Name)
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.nativeBalance), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(5_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.txs)), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)

	if to := tx.To(); to != nil && *to == RouterAddress && f.receiptStatus == types.ReceiptStatusSuccessful {
		if tx.Value().Sign() > 0 {
			f.tokenBalance = new(big.Int).Add(f.tokenBalance, f.buyYield)
		} else {
			f.nativeBalance = new(big.Int).Add(f.nativeBalance, f.sellYield)
		}
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Receipt{
		Status:  f.receiptStatus,
		GasUsed: 100_000,
		TxHash:  txHash,
	}, nil
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	c, err := NewWithBackend(backend, testWalletKey, &Options{
		MaxRPCsPerSec:       1000,
		ReceiptPollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestQuoteSpotPrice(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeBackend())

	q, err := c.Quote(ctx, testToken.Hex(), dex.Sell)
	if err != nil {
		t.Fatal(err)
	}
	// 100 WBNB against 1000 tokens.
	if want := d("0.1"); !q.Price.Equal(want) {
		t.Fatalf("spot price = %s, want %s", q.Price, want)
	}
	// The fake router quotes one-to-one.
	if want := d("1"); !q.EffectivePrice.Equal(want) {
		t.Fatalf("effective price = %s, want %s", q.EffectivePrice, want)
	}
}

func TestQuoteThinPool(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.wbnbReserve = bnb("1")
	c := newTestClient(t, backend)

	if _, err := c.Quote(ctx, testToken.Hex(), dex.Sell); !errors.Is(err, dex.ErrPriceUnavailable) {
		t.Fatalf("thin pool quote: %v, want ErrPriceUnavailable", err)
	}
}

func TestNativePrice(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeBackend())

	p, err := c.NativePrice(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := d("300"); !p.Equal(want) {
		t.Fatalf("native price = %s, want %s", p, want)
	}
}

func TestFetchTokenMetadata(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeBackend())

	md, err := c.FetchTokenMetadata(ctx, testToken)
	if err != nil {
		t.Fatal(err)
	}
	if md.Symbol != "TST" || md.Name != "Test Token" || md.Decimals != 18 {
		t.Fatalf("metadata = %+v", md)
	}
}

func TestExecuteBuy(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := newTestClient(t, backend)
	x := NewExecutor(c)

	receipt, err := x.Execute(ctx, &dex.Trade{
		Token:       testToken.Hex(),
		Side:        dex.Buy,
		Amount:      d("1"),
		SlippagePct: d("0.5"),
		Gas:         dex.GasPolicy{Mode: dex.GasFixed, Gwei: d("5")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := d("10"); !receipt.FilledSize.Equal(want) {
		t.Fatalf("filled size = %s, want %s", receipt.FilledSize, want)
	}
	if want := d("0.1"); !receipt.UnitPrice.Equal(want) {
		t.Fatalf("unit price = %s, want %s", receipt.UnitPrice, want)
	}
	if len(backend.txs) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.txs))
	}
	if v := backend.txs[0].Value(); v.Cmp(bnb("1")) != 0 {
		t.Fatalf("tx value = %s wei", v)
	}
}

func TestExecuteSell(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := newTestClient(t, backend)
	x := NewExecutor(c)

	receipt, err := x.Execute(ctx, &dex.Trade{
		Token:       testToken.Hex(),
		Side:        dex.Sell,
		Amount:      d("5"),
		SlippagePct: d("0.5"),
		Gas:         dex.GasPolicy{Mode: dex.GasFixed, Gwei: d("5")},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Proceeds are the native delta plus the gas spent on the swap.
	if want := d("0.5005"); !receipt.FilledValue.Equal(want) {
		t.Fatalf("filled value = %s, want %s", receipt.FilledValue, want)
	}
	if want := d("5"); !receipt.FilledSize.Equal(want) {
		t.Fatalf("filled size = %s, want %s", receipt.FilledSize, want)
	}
}

func TestExecuteSellApproves(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.allowance = new(big.Int)
	c := newTestClient(t, backend)
	x := NewExecutor(c)

	if _, err := x.Execute(ctx, &dex.Trade{
		Token:       testToken.Hex(),
		Side:        dex.Sell,
		Amount:      d("5"),
		SlippagePct: d("0.5"),
		Gas:         dex.GasPolicy{Mode: dex.GasFixed, Gwei: d("5")},
	}); err != nil {
		t.Fatal(err)
	}
	// First the approval, then the swap.
	if len(backend.txs) != 2 {
		t.Fatalf("sent %d transactions, want 2", len(backend.txs))
	}
	if to := backend.txs[0].To(); to == nil || *to != testToken {
		t.Fatalf("first tx went to %v, want the token contract", to)
	}
}

func TestRevertedSwapIsSlippage(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.receiptStatus = types.ReceiptStatusFailed
	c := newTestClient(t, backend)
	x := NewExecutor(c)

	_, err := x.Execute(ctx, &dex.Trade{
		Token:       testToken.Hex(),
		Side:        dex.Buy,
		Amount:      d("1"),
		SlippagePct: d("0.5"),
		Gas:         dex.GasPolicy{Mode: dex.GasFixed, Gwei: d("5")},
	})
	var xerr *dex.ExecError
	if !errors.As(err, &xerr) || xerr.Kind != dex.SlippageExceeded {
		t.Fatalf("reverted swap error = %v, want SlippageExceeded", err)
	}
	if !dex.IsTransient(err) {
		t.Fatalf("slippage failure should stay retryable")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  string
		kind dex.ExecErrorKind
	}{
		{"insufficient funds for gas * price + value", dex.InsufficientFunds},
		{"execution reverted: PancakeRouter: INSUFFICIENT_OUTPUT_AMOUNT", dex.SlippageExceeded},
		{"execution reverted", dex.RouteUnavailable},
		{"connection reset by peer", dex.Transient},
	}
	for _, c := range cases {
		err := classify(errors.New(c.err))
		var xerr *dex.ExecError
		if !errors.As(err, &xerr) || xerr.Kind != c.kind {
			t.Errorf("classify(%q) = %v, want kind %s", c.err, err, c.kind)
		}
	}
}
