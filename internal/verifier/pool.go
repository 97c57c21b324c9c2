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
	"sync"
	"time"

	"github.com/huangshunping/stacktach/internal/store"
	"github.com/huangshunping/stacktach/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Publisher is the boundary the verifier pushes verified Exists records
// through. internal/publisher.Service implements this.
type Publisher interface {
	PublishVerified(ctx context.Context, exist store.InstanceExists) error
}

// Pool runs Verify concurrently over a bounded number of in-flight
// verifications. A Reaper drains completed outcomes and keeps running
// counters for the periodic progress log line.
type Pool struct {
	store     store.Store
	publisher Publisher // nil disables publishing
	sem       *semaphore.Weighted
	results   chan Outcome
	wg        sync.WaitGroup

	mu                       sync.Mutex
	pending, success, failed int
}

// NewPool builds a Pool bounded to size concurrent in-flight
// verifications. If publisher is non-nil, every outcome with Verified
// set (status VERIFIED or RECONCILED) is republished via it.
func NewPool(st store.Store, publisher Publisher, size int) *Pool {
	return &Pool{
		store:     st,
		publisher: publisher,
		sem:       semaphore.NewWeighted(int64(size)),
		results:   make(chan Outcome, size*4),
	}
}

// Submit acquires a pool slot and runs Verify(exist) in its own
// goroutine, sending the Outcome to the results channel the Reaper
// drains. Submit blocks until a slot is free or ctx is canceled.
func (p *Pool) Submit(ctx context.Context, exist store.InstanceExists) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		verifyStart := time.Now()
		outcome := Verify(ctx, p.store, exist)
		telemetry.VerifyDuration.Observe(time.Since(verifyStart).Seconds())
		telemetry.VerifyOutcomes.WithLabelValues(string(outcome.Exist.Status)).Inc()

		if err := p.store.SaveInstanceExists(ctx, outcome.Exist); err != nil {
			log.WithError(err).WithField("exists_id", outcome.Exist.ID).Error("saving verified exists row")
		}

		if outcome.Verified && p.publisher != nil {
			if err := p.publisher.PublishVerified(ctx, outcome.Exist); err != nil {
				// A publish failure doesn't roll back the verification
				// result: the exists row is already saved in its terminal
				// status (VERIFIED or RECONCILED), and
				// a verified-but-unpublished row is a recoverable state,
				// not a reason to re-verify.
				telemetry.PublishErrors.Inc()
				log.WithError(err).WithField("exists_id", outcome.Exist.ID).Warn("publishing verified exists")
			}
		}

		p.results <- outcome
	}()

	return nil
}

// Wait blocks until every Submit-ed verification has completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Reaper drains p.results, maintaining running success/failure counters
// and logging a periodic progress line, until ctx is canceled.
func (p *Pool) Reaper(ctx context.Context, logEvery time.Duration) {
	ticker := time.NewTicker(logEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-p.results:
			if !ok {
				return
			}
			p.mu.Lock()
			p.pending--
			if outcome.Verified {
				p.success++
			} else {
				p.failed++
			}
			p.mu.Unlock()
		case <-ticker.C:
			p.logProgress()
		}
	}
}

func (p *Pool) logProgress() {
	p.mu.Lock()
	n, s, e := p.pending, p.success, p.failed
	p.mu.Unlock()
	log.Infof("N: %d, P: %d, S: %d, E: %d", n+s+e, n, s, e)
}

// Close closes the results channel. Callers must ensure no further
// Submit calls happen afterward.
func (p *Pool) Close() {
	close(p.results)
}
