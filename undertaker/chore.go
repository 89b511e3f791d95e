// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package undertaker reaps expired DIDs: it periodically scans its shard of
// the expired stream and feeds the results to the deletion engine.
package undertaker

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
	// Error is the default error class for the undertaker.
	Error = errs.Class("undertaker")

	mon = monkit.Package()
)

// Config contains configurable values for the undertaker chore.
type Config struct {
	Interval     time.Duration `help:"the time between two chore runs" default:"5m"`
	Enabled      bool          `help:"set if the chore is enabled" default:"true"`
	Worker       int           `help:"shard of the expired stream this instance owns" default:"0"`
	TotalWorkers int           `help:"number of concurrently deployed instances" default:"1"`
	ChunkSize    int           `help:"number of expired DIDs deleted per run" default:"500"`
}

// Chore deletes expired DIDs.
type Chore struct {
	log     *zap.Logger
	config  Config
	catalog *catalog.DB
	nowFn   func() time.Time

	Loop *sync2.Cycle
}

// NewChore creates a new undertaker chore.
func NewChore(log *zap.Logger, config Config, catalog *catalog.DB) *Chore {
	return &Chore{
		log:     log,
		config:  config,
		catalog: catalog,
		nowFn:   time.Now,
		Loop:    sync2.NewCycle(config.Interval),
	}
}

// Run starts the chore.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !chore.config.Enabled {
		return nil
	}
	return chore.Loop.Run(ctx, chore.deleteExpiredDIDs)
}

// Close stops the chore.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// TestingSetNow allows tests to have the chore at a specific time.
func (chore *Chore) TestingSetNow(nowFn func() time.Time) {
	chore.nowFn = nowFn
}

func (chore *Chore) deleteExpiredDIDs(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	expired, err := chore.catalog.ListExpiredDIDs(ctx, catalog.ListExpiredDIDs{
		Worker:       chore.config.Worker,
		TotalWorkers: chore.config.TotalWorkers,
		Limit:        chore.config.ChunkSize,
		AsOf:         chore.nowFn(),
	})
	if err != nil {
		chore.log.Error("listing expired DIDs failed", zap.Error(err))
		return nil
	}
	if len(expired) == 0 {
		return nil
	}
	mon.IntVal("expired_dids").Observe(int64(len(expired)))

	dids := make([]catalog.DeleteDID, len(expired))
	for i, d := range expired {
		purge := d.PurgeReplicas
		dids[i] = catalog.DeleteDID{
			DIDLocation:   d.DIDLocation,
			PurgeReplicas: &purge,
		}
	}
	err = chore.catalog.DeleteDIDs(ctx, catalog.DeleteDIDs{
		DIDs:        dids,
		Account:     "undertaker",
		ExpireRules: true,
	})
	if err != nil {
		chore.log.Error("deleting expired DIDs failed", zap.Error(err))
		return nil
	}
	chore.log.Info("deleted expired DIDs", zap.Int("count", len(dids)))
	return nil
}
