// Copyright (c) 2025 BVK Chaitanya

package subcmds

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bvk/pancakebot/ctxutil"
	"github.com/bvk/pancakebot/daemonize"
	"github.com/bvk/pancakebot/engine"
	"github.com/bvk/pancakebot/notify"
	"github.com/bvk/pancakebot/pancake"
	"github.com/nightlyone/lockfile"
	"github.com/visvasity/cli"
)

type Run struct {
	DBFlags

	background      bool
	restart         bool
	shutdownTimeout time.Duration

	secretsPath string
	envFile     string

	tickInterval      time.Duration
	maxParallel       int
	execTimeout       time.Duration
	maxTransientFails int

	noNotify bool
}

func (c *Run) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("run", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.BoolVar(&c.background, "background", false, "runs the daemon in background")
	fset.BoolVar(&c.restart, "restart", false, "when true, kills any old instance")
	fset.DurationVar(&c.shutdownTimeout, "shutdown-timeout", 30*time.Second, "max timeout for shutdown when restarting")
	fset.StringVar(&c.secretsPath, "secrets-file", "", "path to credentials file")
	fset.StringVar(&c.envFile, "env-file", "", "path to optional dotenv file with credentials")
	fset.DurationVar(&c.tickInterval, "tick-interval", 30*time.Second, "delay between price evaluation rounds")
	fset.IntVar(&c.maxParallel, "max-parallel", 4, "max tokens evaluated concurrently per round")
	fset.DurationVar(&c.execTimeout, "exec-timeout", 2*time.Minute, "max duration of one swap execution attempt")
	fset.IntVar(&c.maxTransientFails, "max-transient-fails", 5, "failed attempts before an order is marked FAILED")
	fset.BoolVar(&c.noNotify, "no-notify", false, "when true telegram notifications are disabled")
	return "run", fset, cli.CmdFunc(c.run)
}

func (c *Run) Purpose() string {
	return "Runs the order watching daemon"
}

func (c *Run) Description() string {
	return `

Command "run" starts the order watching daemon. The daemon scans the
database for watched tokens with their conditional orders and evaluates them
against fresh prices every tick, dispatching swaps for orders whose
conditions are met.

SECRETS FILE

The daemon needs a BNB Smart Chain node endpoint and the wallet's signing
key, and optionally a telegram bot token for notifications:

    {
        "bsc":{
            "rpc_url":"https://bsc-dataseed.binance.org:443",
            "wallet_key":"111111111"
        },
        "telegram":{
            "token":"2222222222",
            "owner":"username"
        }
    }

The same values can come from the PANCAKEBOT_RPC_URL, PANCAKEBOT_WALLET_KEY,
TELEGRAM_BOT_TOKEN and TELEGRAM_OWNER_ID environment variables, or from a
dotenv file given with --env-file.

`
}

func (c *Run) run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir, err := c.ResolveDataDir()
	if err != nil {
		return err
	}
	if len(c.secretsPath) == 0 {
		c.secretsPath = filepath.Join(dataDir, "secrets.json")
	}
	secrets, err := LoadSecrets(c.secretsPath, c.envFile)
	if err != nil {
		return err
	}

	lockPath := filepath.Join(dataDir, "pancakebot.lock")
	if c.background {
		// Parent waits till a live daemon owns the lock file.
		check := func(ctx context.Context) error {
			flock, err := lockfile.New(lockPath)
			if err != nil {
				return err
			}
			if _, err := flock.GetOwner(); err != nil {
				return fmt.Errorf("lock file has no live owner yet: %w", err)
			}
			return nil
		}
		if err := daemonize.Daemonize(ctx, check); err != nil {
			return err
		}
	}

	log.SetFlags(log.Flags() | log.Lmicroseconds)
	log.Printf("using data directory %s and secrets file %s", dataDir, c.secretsPath)

	flock, err := lockfile.New(lockPath)
	if err != nil {
		return fmt.Errorf("could not create lock file %q: %w", lockPath, err)
	}
	if err := flock.TryLock(); err != nil {
		if !c.restart {
			return fmt.Errorf("could not get lock on file %q: %w", lockPath, err)
		}
		owner, err := flock.GetOwner()
		if err != nil {
			return fmt.Errorf("could not get current owner of the lock file: %w", err)
		}
		if err := owner.Signal(os.Interrupt); err == nil {
			log.Printf("waiting for the previous instance to shutdown")
			if err := ctxutil.RetryTimeout(ctx, time.Second, c.shutdownTimeout, flock.TryLock); err != nil {
				if err := owner.Signal(os.Kill); err != nil {
					return fmt.Errorf("could not kill current owner of the lock file: %w", err)
				}
				ctxutil.Sleep(ctx, time.Millisecond)
			}
		}
		if err := flock.TryLock(); err != nil {
			return fmt.Errorf("could not get lock on file %q after killing previous instance: %w", lockPath, err)
		}
	}
	defer flock.Unlock()

	db, closer, err := c.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	client, err := pancake.New(ctx, secrets.BSC, nil /* opts */)
	if err != nil {
		return err
	}
	executor := pancake.NewExecutor(client)

	eopts := &engine.Options{
		TickInterval:      c.tickInterval,
		MaxParallel:       c.maxParallel,
		ExecTimeout:       c.execTimeout,
		MaxTransientFails: c.maxTransientFails,
	}
	eng, err := engine.New(ctx, db, client, executor, eopts)
	if err != nil {
		return err
	}
	defer eng.Close()

	if secrets.Telegram != nil && !c.noNotify {
		notifier, err := notify.New(ctx, db, secrets.Telegram)
		if err != nil {
			return err
		}
		defer notifier.Close()

		if err := addChatCommands(ctx, notifier, eng); err != nil {
			return err
		}

		events, err := eng.Events()
		if err != nil {
			return err
		}
		notifier.Watch(ctx, events)
		log.Printf("telegram notifications go to %s via bot %s", notifier.OwnerUserName(), notifier.BotUserName())
	}

	log.Printf("started watching token prices for wallet %s", client.Wallet())
	return eng.Run(ctx)
}
