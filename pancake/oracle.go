// Copyright (c) 2025 BVK Chaitanya

package pancake

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const nativeDecimals = 18

var zeroAddress common.Address

// TokenMetadata is the on-chain identity of a BEP-20 token.
type TokenMetadata struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals int32
}

// FetchTokenMetadata reads the token's symbol, name and decimals from its
// contract.
func (c *Client) FetchTokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error) {
	md := &TokenMetadata{Address: token}

	vs, err := c.call(ctx, token, erc20Contract, "symbol")
	if err != nil {
		return nil, fmt.Errorf("could not fetch token symbol: %w", err)
	}
	md.Symbol = vs[0].(string)

	vs, err = c.call(ctx, token, erc20Contract, "name")
	if err != nil {
		return nil, fmt.Errorf("could not fetch token name: %w", err)
	}
	md.Name = vs[0].(string)

	vs, err = c.call(ctx, token, erc20Contract, "decimals")
	if err != nil {
		return nil, fmt.Errorf("could not fetch token decimals: %w", err)
	}
	md.Decimals = int32(vs[0].(uint8))
	return md, nil
}

// tokenDecimals reads the decimals of a token contract.
func (c *Client) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	vs, err := c.call(ctx, token, erc20Contract, "decimals")
	if err != nil {
		return 0, err
	}
	return int32(vs[0].(uint8)), nil
}

// pairFor resolves the WBNB liquidity pair of a token through the factory.
func (c *Client) pairFor(ctx context.Context, token common.Address) (common.Address, error) {
	vs, err := c.call(ctx, FactoryAddress, factoryContract, "getPair", token, WBNBAddress)
	if err != nil {
		return zeroAddress, err
	}
	pair := vs[0].(common.Address)
	if pair == zeroAddress {
		return zeroAddress, fmt.Errorf("token %s has no WBNB pair: %w", token, dex.ErrPriceUnavailable)
	}
	return pair, nil
}

// reserves returns the token and WBNB reserves of the pair, in contract
// units, with the token side first.
func (c *Client) reserves(ctx context.Context, pair, token common.Address) (tokenReserve, wbnbReserve *big.Int, err error) {
	vs, err := c.call(ctx, pair, pairContract, "token0")
	if err != nil {
		return nil, nil, err
	}
	token0 := vs[0].(common.Address)

	vs, err = c.call(ctx, pair, pairContract, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	r0, r1 := vs[0].(*big.Int), vs[1].(*big.Int)
	if token0 == token {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// Quote returns the token's spot price from the WBNB pair reserves and the
// effective price for a unit trade through the router. Pools holding less
// than MinPoolWBNB report dex.ErrPriceUnavailable.
func (c *Client) Quote(ctx context.Context, token string, side dex.Side) (*dex.Quote, error) {
	addr := common.HexToAddress(token)
	pair, err := c.pairFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	decimals, err := c.tokenDecimals(ctx, addr)
	if err != nil {
		return nil, err
	}
	tokenReserve, wbnbReserve, err := c.reserves(ctx, pair, addr)
	if err != nil {
		return nil, err
	}

	wbnb := fromWei(wbnbReserve, nativeDecimals)
	if wbnb.LessThan(c.opts.MinPoolWBNB) {
		return nil, fmt.Errorf("pool for %s holds only %s WBNB: %w", token, wbnb, dex.ErrPriceUnavailable)
	}
	tokens := fromWei(tokenReserve, decimals)
	if !tokens.IsPositive() {
		return nil, fmt.Errorf("pool for %s has no token reserve: %w", token, dex.ErrPriceUnavailable)
	}
	q := &dex.Quote{
		Price: wbnb.Div(tokens),
		At:    time.Now(),
	}

	// Effective price includes pool fees and depth for a one-token trade.
	path := quotePath(addr, side)
	one := toWei(decimal.NewFromInt(1), pathInDecimals(decimals, side))
	vs, err := c.call(ctx, RouterAddress, routerContract, "getAmountsOut", one, path)
	if err != nil {
		return nil, err
	}
	amounts := vs[0].([]*big.Int)
	out := amounts[len(amounts)-1]
	switch side {
	case dex.Sell:
		// Tokens in, WBNB out.
		q.EffectivePrice = fromWei(out, nativeDecimals)
	case dex.Buy:
		// WBNB in, tokens out.
		got := fromWei(out, decimals)
		if !got.IsPositive() {
			return nil, fmt.Errorf("router returned zero output for %s: %w", token, dex.ErrPriceUnavailable)
		}
		q.EffectivePrice = decimal.NewFromInt(1).Div(got)
	}
	return q, nil
}

func quotePath(token common.Address, side dex.Side) []common.Address {
	if side == dex.Buy {
		return []common.Address{WBNBAddress, token}
	}
	return []common.Address{token, WBNBAddress}
}

func pathInDecimals(tokenDecimals int32, side dex.Side) int32 {
	if side == dex.Buy {
		return nativeDecimals
	}
	return tokenDecimals
}

// TokenBalance returns the wallet's balance of the given token.
func (c *Client) TokenBalance(ctx context.Context, token string) (decimal.Decimal, error) {
	addr := common.HexToAddress(token)
	decimals, err := c.tokenDecimals(ctx, addr)
	if err != nil {
		return decimal.Zero, err
	}
	vs, err := c.call(ctx, addr, erc20Contract, "balanceOf", c.wallet)
	if err != nil {
		return decimal.Zero, err
	}
	return fromWei(vs[0].(*big.Int), decimals), nil
}

// NativeBalance returns the wallet's BNB balance.
func (c *Client) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	wei, err := c.backend.BalanceAt(ctx, c.wallet, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not fetch native balance: %w", err)
	}
	return fromWei(wei, nativeDecimals), nil
}

// NativePrice returns the BNB price in BUSD from the WBNB/BUSD pool.
func (c *Client) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	vs, err := c.call(ctx, FactoryAddress, factoryContract, "getPair", WBNBAddress, BUSDAddress)
	if err != nil {
		return decimal.Zero, err
	}
	pair := vs[0].(common.Address)
	if pair == zeroAddress {
		return decimal.Zero, dex.ErrPriceUnavailable
	}
	wbnbReserve, busdReserve, err := c.reserves(ctx, pair, WBNBAddress)
	if err != nil {
		return decimal.Zero, err
	}
	wbnb := fromWei(wbnbReserve, nativeDecimals)
	if !wbnb.IsPositive() {
		return decimal.Zero, dex.ErrPriceUnavailable
	}
	return fromWei(busdReserve, nativeDecimals).Div(wbnb), nil
}

// fromWei converts contract units into a decimal quantity.
func fromWei(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}

// toWei converts a decimal quantity into contract units, truncating any
// fraction below one unit.
func toWei(v decimal.Decimal, decimals int32) *big.Int {
	return v.Shift(decimals).Truncate(0).BigInt()
}
