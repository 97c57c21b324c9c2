// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"context"
	"time"

	"github.com/huangshunping/stacktach/internal/store"
	"github.com/huangshunping/stacktach/internal/tsdecimal"
	log "github.com/sirupsen/logrus"
)

// Config is the verifier run loop's tunable surface, bound to the CLI by
// cmd/verifier/main.go.
type Config struct {
	// TickTime is how long Run sleeps between scans.
	TickTime time.Duration
	// Settle is how far past AuditPeriodEnding an Exists row must be
	// before the scan will claim it, absorbing late-arriving Usage and
	// Delete events.
	Settle time.Duration
	// PoolSize bounds concurrent in-flight verifications.
	PoolSize int
	// BatchSize bounds how many rows a single scan claims.
	BatchSize int
	// RunOnce, if set, processes exactly one pending batch and returns
	// instead of looping forever.
	RunOnce bool
	// LogEvery controls the Reaper's progress-log cadence.
	LogEvery time.Duration
}

// DefaultBatchSize bounds a single FindPendingExists claim when the
// caller hasn't configured one explicitly.
const DefaultBatchSize = 1000

// Run drives the periodic scan-claim-submit loop: every cfg.TickTime it
// scans store for PENDING rows whose audit_period_ending has settled,
// submits each to a Pool sized at cfg.PoolSize, and waits for the batch
// to drain before sleeping again. It returns when ctx is canceled, or
// after a single batch if cfg.RunOnce is set.
func Run(ctx context.Context, st store.Store, publisher Publisher, cfg Config) error {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logEvery := cfg.LogEvery
	if logEvery <= 0 {
		logEvery = 10 * time.Second
	}

	for {
		if err := runOnce(ctx, st, publisher, cfg.PoolSize, batchSize, cfg.Settle, logEvery); err != nil {
			return err
		}
		if cfg.RunOnce {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.TickTime):
		}
	}
}

// runOnce claims and verifies a single batch of settled PENDING rows.
func runOnce(
	ctx context.Context,
	st store.Store,
	publisher Publisher,
	poolSize, batchSize int,
	settle time.Duration,
	logEvery time.Duration,
) error {
	endingMax := tsdecimal.FromTime(time.Now().UTC().Add(-settle))

	pending, err := st.FindPendingExists(ctx, endingMax, batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	log.WithField("count", len(pending)).Info("claimed pending exists rows")

	pool := NewPool(st, publisher, poolSize)
	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	go pool.Reaper(reaperCtx, logEvery)

	for _, exist := range pending {
		if err := pool.Submit(ctx, exist); err != nil {
			return err
		}
	}

	pool.Wait()
	cancelReaper()
	pool.Close()
	return nil
}
