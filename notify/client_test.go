// Copyright (c) 2025 BVK Chaitanya

package notify

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bvk/pancakebot/dex"
	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/watcher"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/shopspring/decimal"
)

var testingSecrets *Secrets

func checkSecrets() bool {
	if testingSecrets != nil {
		return true
	}
	data, err := os.ReadFile("telegram-creds.json")
	if err != nil {
		return false
	}
	s := new(Secrets)
	if err := json.Unmarshal(data, s); err != nil {
		return false
	}
	if err := s.Check(); err != nil {
		return false
	}
	testingSecrets = s
	return true
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	if !checkSecrets() {
		t.Skip("no credentials")
		return
	}

	db := kvmemdb.New()
	c, err := New(ctx, db, testingSecrets)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	t.Logf("Authorized on account %s with owner %s", c.BotUserName(), c.OwnerUserName())

	c.SendMessage(ctx, time.Now(), "hello")
}

func TestFormat(t *testing.T) {
	limit := decimal.RequireFromString("2.5")
	view := &engine.OrderView{
		ID:         7,
		Symbol:     "CAKE",
		Side:       dex.Sell,
		State:      watcher.Pending,
		LimitPrice: &limit,
		Amount:     decimal.RequireFromString("50"),
	}

	msg := Format(&engine.Event{Type: engine.EventOrderCreated, Order: view})
	for _, want := range []string{"#7", "SELL", "CAKE", "2.5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("created message %q does not mention %q", msg, want)
		}
	}

	msg = Format(&engine.Event{
		Type:  engine.EventOrderExecuted,
		Order: view,
		Receipt: &dex.Receipt{
			TxHash:     "0xabc",
			FilledSize: decimal.RequireFromString("50"),
			UnitPrice:  decimal.RequireFromString("2.6"),
		},
	})
	for _, want := range []string{"executed", "0xabc", "2.6"} {
		if !strings.Contains(msg, want) {
			t.Errorf("executed message %q does not mention %q", msg, want)
		}
	}
}
