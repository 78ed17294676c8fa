// Copyright (c) 2025 BVK Chaitanya

// Package subcmds implements the command line interface.
package subcmds

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bvk/pancakebot/kvutil"
	"github.com/bvkgo/kv"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/bvkgo/kvbadger"
	"github.com/dgraph-io/badger/v4"
)

// DBFlags selects the database for commands that operate on it directly.
type DBFlags struct {
	DataDir string

	fromBackup string
}

func (f *DBFlags) SetFlags(fset *flag.FlagSet) {
	fset.StringVar(&f.DataDir, "data-dir", "", "Path to the data directory")
	fset.StringVar(&f.fromBackup, "from-backup", "", "Path to a database backup file")
}

// ResolveDataDir returns the data directory, defaulting to ~/.pancakebot
// and creating it when missing.
func (f *DBFlags) ResolveDataDir() (string, error) {
	dir := f.DataDir
	if len(dir) == 0 {
		dir = filepath.Join(os.Getenv("HOME"), ".pancakebot")
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("could not stat data directory %q: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", fmt.Errorf("could not create data directory %q: %w", dir, err)
		}
	}
	return filepath.Abs(dir)
}

// GetDatabase opens the database: an in-memory copy when a backup file is
// given, otherwise the badger store under the data directory.
func (f *DBFlags) GetDatabase(ctx context.Context) (kv.Database, func(), error) {
	if len(f.fromBackup) != 0 {
		fp, err := os.Open(f.fromBackup)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open file %q: %w", f.fromBackup, err)
		}
		defer fp.Close()

		db := kvmemdb.New()
		restore := func(ctx context.Context, rw kv.ReadWriter) error {
			return kvutil.Import(ctx, bufio.NewReader(fp), rw)
		}
		if err := kv.WithReadWriter(ctx, db, restore); err != nil {
			return nil, nil, fmt.Errorf("could not restore in-memory db from backup: %w", err)
		}
		return db, func() {}, nil
	}

	dataDir, err := f.ResolveDataDir()
	if err != nil {
		return nil, nil, err
	}
	bopts := badger.DefaultOptions(dataDir)
	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open the database: %w", err)
	}
	db := kvbadger.New(bdb, isGoodKey)
	return db, func() { bdb.Close() }, nil
}

func isGoodKey(k string) bool {
	return path.IsAbs(k) && k == path.Clean(k)
}
