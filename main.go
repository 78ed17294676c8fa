// Copyright (c) 2025 BVK Chaitanya

package main

import (
	"context"
	"log"
	"os"

	"github.com/bvk/pancakebot/subcmds"
	"github.com/bvk/pancakebot/subcmds/db"
	"github.com/bvk/pancakebot/subcmds/order"
	"github.com/bvk/pancakebot/subcmds/token"
	"github.com/visvasity/cli"
)

func main() {
	tokenCmds := []cli.Command{
		new(token.Add),
		new(token.Remove),
		new(token.List),
	}

	orderCmds := []cli.Command{
		new(order.Add),
		new(order.Cancel),
		new(order.List),
	}

	dbCmds := []cli.Command{
		new(db.Get),
		new(db.Set),
		new(db.Delete),
		new(db.List),
		new(db.Backup),
		new(db.Restore),
	}

	cmds := []cli.Command{
		new(subcmds.Run),
		new(subcmds.Status),
		new(subcmds.IDGen),
		cli.NewGroup("token", "Manage the token watch set", tokenCmds...),
		cli.NewGroup("order", "Manage conditional orders", orderCmds...),
		cli.NewGroup("db", "View/update database directly", dbCmds...),
	}
	if err := cli.Run(context.Background(), cmds, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
