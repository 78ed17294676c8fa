// Copyright (c) 2025 BVK Chaitanya

package db

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"

	"github.com/bvk/pancakebot/subcmds"
	"github.com/visvasity/cli"
)

type Set struct {
	subcmds.DBFlags
}

func (c *Set) Run(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("needs two (key, hex value) arguments")
	}
	value, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("could not decode hex value: %w", err)
	}

	db, closer, err := c.DBFlags.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	tx, err := db.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.Set(ctx, args[0], bytes.NewReader(value)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *Set) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("set", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	return "set", fset, cli.CmdFunc(c.Run)
}

func (c *Set) Purpose() string {
	return "Updates the value for a key in the database"
}
