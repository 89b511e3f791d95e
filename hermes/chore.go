// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package hermes delivers digests of follow events: it periodically drains
// its shard of pending events into per-account email messages.
package hermes

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/didcat/catalog"
)

var (
	// Error is the default error class for hermes.
	Error = errs.Class("hermes")

	mon = monkit.Package()
)

// Config contains configurable values for the hermes chore.
type Config struct {
	Interval     time.Duration `help:"the time between two chore runs" default:"24h"`
	Enabled      bool          `help:"set if the chore is enabled" default:"true"`
	Worker       int           `help:"shard of the account space this instance owns" default:"0"`
	TotalWorkers int           `help:"number of concurrently deployed instances" default:"1"`
}

// Chore generates follow event reports.
type Chore struct {
	log     *zap.Logger
	config  Config
	catalog *catalog.DB

	Loop *sync2.Cycle
}

// NewChore creates a new hermes chore.
func NewChore(log *zap.Logger, config Config, catalog *catalog.DB) *Chore {
	return &Chore{
		log:     log,
		config:  config,
		catalog: catalog,
		Loop:    sync2.NewCycle(config.Interval),
	}
}

// Run starts the chore.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !chore.config.Enabled {
		return nil
	}
	return chore.Loop.Run(ctx, chore.createReports)
}

// Close stops the chore.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

func (chore *Chore) createReports(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = chore.catalog.CreateReports(ctx, chore.config.Worker, chore.config.TotalWorkers)
	if err != nil {
		chore.log.Error("creating follow reports failed", zap.Error(err))
	}
	return nil
}
