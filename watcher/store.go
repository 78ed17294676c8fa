// Copyright (c) 2025 BVK Chaitanya

package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/bvk/pancakebot/gobs"
	"github.com/bvk/pancakebot/kvutil"
	"github.com/bvkgo/kv"
)

const (
	TokensKeyspace = "/tokens/"
	OrdersKeyspace = "/orders/"
)

func TokenKey(address string) string {
	return path.Join(TokensKeyspace, address)
}

func OrderKey(id OrderID) string {
	return path.Join(OrdersKeyspace, fmt.Sprintf("%019d", id))
}

// SaveToken persists the token's metadata and position accounting.
func SaveToken(ctx context.Context, db kv.Database, t *Token) error {
	return kvutil.SetDB(ctx, db, TokenKey(t.Address()), t.GobState())
}

// DeleteToken removes the token record. Order records are kept; they carry
// their own token address.
func DeleteToken(ctx context.Context, db kv.Database, address string) error {
	return kvutil.DeleteDB(ctx, db, TokenKey(address))
}

// SaveOrder persists the order's full state, including its trigger
// condition and lifecycle state.
func SaveOrder(ctx context.Context, db kv.Database, o *Order) error {
	return kvutil.SetDB(ctx, db, OrderKey(o.ID()), o.GobState())
}

// LoadTokens scans the token keyspace and rebuilds all tokens.
func LoadTokens(ctx context.Context, db kv.Database) (map[string]*Token, error) {
	tmap := make(map[string]*Token)
	begin, end := kvutil.PathRange(TokensKeyspace)
	err := kvutil.AscendDB(ctx, db, begin, end, func(ctx context.Context, r kv.Reader, key string, gs *gobs.TokenState) error {
		t, err := TokenFromState(gs)
		if err != nil {
			return fmt.Errorf("could not load token at key %q: %w", key, err)
		}
		tmap[t.Address()] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tmap, nil
}

// LoadOrders scans the order keyspace, rebuilds all orders and attaches each
// non-final one to its token. Orders whose token no longer exists are
// skipped with a warning.
func LoadOrders(ctx context.Context, db kv.Database, tmap map[string]*Token) (map[OrderID]*Order, error) {
	omap := make(map[OrderID]*Order)
	begin, end := kvutil.PathRange(OrdersKeyspace)
	err := kvutil.AscendDB(ctx, db, begin, end, func(ctx context.Context, r kv.Reader, key string, gs *gobs.OrderState) error {
		o, err := OrderFromState(gs)
		if err != nil {
			return fmt.Errorf("could not load order at key %q: %w", key, err)
		}
		omap[o.ID()] = o
		if IsFinal(o.State()) {
			return nil
		}
		t, ok := tmap[o.Token()]
		if !ok {
			slog.Warn("skipping order for unknown token", "order", o, "token", o.Token())
			return nil
		}
		return t.AddOrder(o)
	})
	if err != nil {
		return nil, err
	}
	return omap, nil
}

// MaxOrderID returns the largest order id found in the given map, or zero.
func MaxOrderID(omap map[OrderID]*Order) OrderID {
	var max OrderID
	for id := range omap {
		if id > max {
			max = id
		}
	}
	return max
}
