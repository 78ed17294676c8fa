// Copyright (c) 2025 BVK Chaitanya

package pancake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/bvk/pancakebot/ctxutil"
	"github.com/bvk/pancakebot/dex"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const (
	// swapGasLimit caps gas for router swaps; fee-on-transfer tokens can
	// burn noticeably more than a plain swap.
	swapGasLimit = 500_000

	approveGasLimit = 100_000

	// swapDeadline is the router-enforced transaction validity window.
	swapDeadline = 2 * time.Minute
)

var gweiShift = int32(9)

// maxApproval is the unlimited BEP-20 allowance value.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Executor dispatches swaps through the PancakeSwap router. It implements
// dex.Executor over a shared Client.
type Executor struct {
	client *Client
}

func NewExecutor(client *Client) *Executor {
	return &Executor{client: client}
}

// Execute performs one swap for the trade and reports the fill measured
// from wallet balance deltas.
func (x *Executor) Execute(ctx context.Context, trade *dex.Trade) (*dex.Receipt, error) {
	if err := trade.Check(); err != nil {
		return nil, dex.NewExecError(dex.RouteUnavailable, err)
	}

	c := x.client
	token := common.HexToAddress(trade.Token)
	decimals, err := c.tokenDecimals(ctx, token)
	if err != nil {
		return nil, classify(err)
	}
	gasPrice, err := x.gasPrice(ctx, trade.Gas)
	if err != nil {
		return nil, classify(err)
	}

	switch trade.Side {
	case dex.Buy:
		return x.buy(ctx, trade, token, decimals, gasPrice)
	case dex.Sell:
		return x.sell(ctx, trade, token, decimals, gasPrice)
	}
	return nil, dex.NewExecError(dex.RouteUnavailable, fmt.Errorf("side %q is not tradable", trade.Side))
}

// gasPrice resolves the trade's gas policy into a concrete price in wei.
func (x *Executor) gasPrice(ctx context.Context, policy dex.GasPolicy) (*big.Int, error) {
	if policy.Mode == dex.GasFixed {
		return toWei(policy.Gwei, gweiShift), nil
	}
	if err := x.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	suggested, err := x.client.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch network gas price: %w", err)
	}
	if policy.Mode == dex.GasOffset {
		return new(big.Int).Add(suggested, toWei(policy.Gwei, gweiShift)), nil
	}
	return suggested, nil
}

func (x *Executor) buy(ctx context.Context, trade *dex.Trade, token common.Address, decimals int32, gasPrice *big.Int) (*dex.Receipt, error) {
	c := x.client
	amountIn := toWei(trade.Amount, nativeDecimals)

	minOut, err := x.minOutput(ctx, amountIn, []common.Address{WBNBAddress, token}, trade.SlippagePct)
	if err != nil {
		return nil, classify(err)
	}

	before, err := c.TokenBalance(ctx, trade.Token)
	if err != nil {
		return nil, classify(err)
	}

	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	input, err := routerContract.Pack("swapExactETHForTokensSupportingFeeOnTransferTokens", minOut, []common.Address{WBNBAddress, token}, c.wallet, deadline)
	if err != nil {
		return nil, dex.NewExecError(dex.RouteUnavailable, err)
	}

	receipt, err := x.send(ctx, trade, RouterAddress, amountIn, gasPrice, swapGasLimit, input)
	if err != nil {
		return nil, err
	}

	after, err := c.TokenBalance(ctx, trade.Token)
	if err != nil {
		return nil, classify(err)
	}
	filled := after.Sub(before)
	if !filled.IsPositive() {
		return nil, dex.NewExecError(dex.SlippageExceeded, fmt.Errorf("swap %s yielded no tokens", receipt.TxHash.Hex()))
	}

	return &dex.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		FilledSize:  filled,
		FilledValue: trade.Amount,
		UnitPrice:   trade.Amount.Div(filled),
		GasUsed:     receipt.GasUsed,
		At:          time.Now(),
	}, nil
}

func (x *Executor) sell(ctx context.Context, trade *dex.Trade, token common.Address, decimals int32, gasPrice *big.Int) (*dex.Receipt, error) {
	c := x.client
	amountIn := toWei(trade.Amount, decimals)

	if err := x.ensureAllowance(ctx, token, amountIn, gasPrice); err != nil {
		return nil, err
	}

	minOut, err := x.minOutput(ctx, amountIn, []common.Address{token, WBNBAddress}, trade.SlippagePct)
	if err != nil {
		return nil, classify(err)
	}

	before, err := c.NativeBalance(ctx)
	if err != nil {
		return nil, classify(err)
	}

	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	input, err := routerContract.Pack("swapExactTokensForETHSupportingFeeOnTransferTokens", amountIn, minOut, []common.Address{token, WBNBAddress}, c.wallet, deadline)
	if err != nil {
		return nil, dex.NewExecError(dex.RouteUnavailable, err)
	}

	receipt, err := x.send(ctx, trade, RouterAddress, nil, gasPrice, swapGasLimit, input)
	if err != nil {
		return nil, err
	}

	after, err := c.NativeBalance(ctx)
	if err != nil {
		return nil, classify(err)
	}

	// The native balance delta includes the gas spent; add it back to get
	// the actual proceeds.
	gas := gasCost(receipt, gasPrice)
	proceeds := after.Sub(before).Add(gas)
	if !proceeds.IsPositive() {
		return nil, dex.NewExecError(dex.SlippageExceeded, fmt.Errorf("swap %s yielded no funds", receipt.TxHash.Hex()))
	}

	return &dex.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		FilledSize:  trade.Amount,
		FilledValue: proceeds,
		UnitPrice:   proceeds.Div(trade.Amount),
		GasUsed:     receipt.GasUsed,
		At:          time.Now(),
	}, nil
}

// minOutput quotes the swap output through the router and applies the
// slippage tolerance.
func (x *Executor) minOutput(ctx context.Context, amountIn *big.Int, path []common.Address, slippagePct decimal.Decimal) (*big.Int, error) {
	vs, err := x.client.call(ctx, RouterAddress, routerContract, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts := vs[0].([]*big.Int)
	out := amounts[len(amounts)-1]

	keep := decimal.NewFromInt(100).Sub(slippagePct).Div(decimal.NewFromInt(100))
	minOut := decimal.NewFromBigInt(out, 0).Mul(keep).Truncate(0).BigInt()
	return minOut, nil
}

// ensureAllowance grants the router an unlimited allowance when the current
// one cannot cover the trade.
func (x *Executor) ensureAllowance(ctx context.Context, token common.Address, needed *big.Int, gasPrice *big.Int) error {
	c := x.client
	vs, err := c.call(ctx, token, erc20Contract, "allowance", c.wallet, RouterAddress)
	if err != nil {
		return classify(err)
	}
	if allowance := vs[0].(*big.Int); allowance.Cmp(needed) >= 0 {
		return nil
	}

	input, err := erc20Contract.Pack("approve", RouterAddress, maxApproval)
	if err != nil {
		return dex.NewExecError(dex.RouteUnavailable, err)
	}
	slog.Info("granting router allowance for token", "token", token)
	if _, err := x.send(ctx, nil, token, nil, gasPrice, approveGasLimit, input); err != nil {
		return err
	}
	return nil
}

// send signs and dispatches a transaction and waits for its receipt.
// Reverted transactions report an exec error of kind SlippageExceeded, the
// usual revert cause for router swaps.
func (x *Executor) send(ctx context.Context, trade *dex.Trade, to common.Address, value *big.Int, gasPrice *big.Int, gasLimit uint64, input []byte) (*types.Receipt, error) {
	c := x.client
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return nil, classify(err)
	}

	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, input)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(ChainID)), c.key)
	if err != nil {
		return nil, dex.NewExecError(dex.RouteUnavailable, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classify(err)
	}
	if trade != nil {
		slog.Info("submitted swap transaction", "trade", trade, "tx", signed.Hash(), "nonce", nonce)
	}

	receipt, err := x.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, classify(err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, dex.NewExecError(dex.SlippageExceeded, fmt.Errorf("transaction %s reverted", signed.Hash()))
	}
	return receipt, nil
}

// waitMined polls for the transaction receipt until it appears or the
// context expires.
func (x *Executor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c := x.client
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			slog.Warn("could not poll transaction receipt (will retry)", "tx", hash, "err", err)
		}
		ctxutil.Sleep(ctx, c.opts.ReceiptPollInterval)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gave up waiting for transaction %s: %w", hash, context.Cause(ctx))
		}
	}
}

func gasCost(receipt *types.Receipt, gasPrice *big.Int) decimal.Decimal {
	wei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), gasPrice)
	return fromWei(wei, nativeDecimals)
}

// classify maps backend errors into the exec error taxonomy. Unrecognized
// errors default to the recoverable kind so the watch loop retries them.
func classify(err error) error {
	var xerr *dex.ExecError
	if errors.As(err, &xerr) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return dex.NewExecError(dex.InsufficientFunds, err)
	case strings.Contains(msg, "insufficient_output_amount"):
		return dex.NewExecError(dex.SlippageExceeded, err)
	case strings.Contains(msg, "invalid_path"), strings.Contains(msg, "execution reverted"):
		return dex.NewExecError(dex.RouteUnavailable, err)
	}
	return dex.NewExecError(dex.Transient, err)
}
