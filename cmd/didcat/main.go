// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// didcat runs the DID catalog maintenance daemons: database migration, the
// undertaker reaping expired DIDs and hermes delivering follow reports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/didcat/catalog"
	"storj.io/didcat/hermes"
	"storj.io/didcat/undertaker"
	"storj.io/private/cfgstruct"
)

type config struct {
	Database string `help:"connection string for the catalog database" default:"sqlite3://file:didcat.db?_foreign_keys=on&_loc=UTC"`

	Catalog    catalog.Config
	Undertaker undertaker.Config
	Hermes     hermes.Config
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("didcat", pflag.ExitOnError)
	var cfg config
	cfgstruct.Bind(flags, &cfg)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := catalog.Open(ctx, log.Named("catalog"), cfg.Database, cfg.Catalog)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.MigrateToLatest(ctx); err != nil {
		return err
	}

	reaper := undertaker.NewChore(log.Named("undertaker"), cfg.Undertaker, db)
	reporter := hermes.NewChore(log.Named("hermes"), cfg.Hermes, db)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return reaper.Run(ctx) })
	group.Go(func() error { return reporter.Run(ctx) })

	err = group.Wait()
	_ = reaper.Close()
	_ = reporter.Close()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
