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

package aggregator

import (
	"context"

	"github.com/huangshunping/stacktach/internal/store"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// startKPITracking begins latency tracking for a request, firing only
// when the bare "compute.instance.update" event arrives from the API
// service (as opposed to a compute-node relay of the same event).
func startKPITracking(ctx context.Context, tx store.Store, lifecycle store.Lifecycle, raw store.RawData) error {
	if raw.Service != "api" {
		return nil
	}

	_, err := tx.CreateRequestTracker(ctx, store.RequestTracker{
		RequestID:   raw.RequestID,
		LifecycleID: lifecycle.ID,
		Start:       raw.When,
		Duration:    decimal.Zero,
	})
	return errors.Wrap(err, "creating request tracker")
}

// updateKPI closes out every RequestTracker for raw.RequestID against
// timing, setting their duration to the elapsed time since tracking
// started. A request with no tracker (it never saw an API-originated
// update event) is a silent no-op.
func updateKPI(ctx context.Context, tx store.Store, timing store.Timing, raw store.RawData) error {
	trackers, err := tx.FindRequestTrackers(ctx, raw.RequestID)
	if err != nil {
		return errors.Wrap(err, "finding request trackers")
	}

	for _, t := range trackers {
		t.LastTimingID = timing.ID
		t.Duration = raw.When.Sub(t.Start)
		if err := tx.SaveRequestTracker(ctx, t); err != nil {
			return errors.Wrap(err, "saving request tracker")
		}
	}
	return nil
}
