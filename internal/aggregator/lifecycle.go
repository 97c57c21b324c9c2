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
	"strings"

	"github.com/huangshunping/stacktach/internal/envelope"
	"github.com/huangshunping/stacktach/internal/store"
	"github.com/pkg/errors"
)

const bareUpdateEvent = "compute.instance.update"

// aggregateLifecycle maintains the per-instance Lifecycle row and its
// named Timing pairs. It is a no-op when the event carries no
// instance_id.
func aggregateLifecycle(ctx context.Context, tx store.Store, raw store.RawData, fields envelope.Fields) error {
	if fields.InstanceID == "" {
		return nil
	}

	lifecycle, err := findOrCreateLifecycle(ctx, tx, fields.InstanceID)
	if err != nil {
		return err
	}

	lifecycle.LastRawID = raw.ID
	lifecycle.LastState = fields.State
	if lifecycle.LastState == "" && !strings.HasSuffix(fields.Event, ".start") {
		lifecycle.LastState = "active"
	}
	lifecycle.LastTaskState = fields.OldTask

	switch {
	case strings.HasSuffix(fields.Event, ".start"):
		name := strings.TrimSuffix(fields.Event, ".start")
		timing, err := findOrCreateTiming(ctx, tx, lifecycle.ID, name)
		if err != nil {
			return err
		}
		timing.StartRawID = raw.ID
		timing.StartWhen = raw.When
		if err := tx.SaveTiming(ctx, timing); err != nil {
			return errors.Wrap(err, "saving start timing")
		}

	case strings.HasSuffix(fields.Event, ".end"):
		name := strings.TrimSuffix(fields.Event, ".end")
		timing, err := findOrCreateTiming(ctx, tx, lifecycle.ID, name)
		if err != nil {
			return err
		}
		timing.EndRawID = raw.ID
		timing.EndWhen = raw.When
		if timing.HasStart() {
			timing.Diff = timing.EndWhen.Sub(timing.StartWhen)
		}
		if err := tx.SaveTiming(ctx, timing); err != nil {
			return errors.Wrap(err, "saving end timing")
		}
		if err := updateKPI(ctx, tx, timing, raw); err != nil {
			return err
		}

	case fields.Event == bareUpdateEvent:
		if err := startKPITracking(ctx, tx, lifecycle, raw); err != nil {
			return err
		}

	default:
		// Other events only touch the Lifecycle's last_* fields, already
		// applied above.
	}

	return errors.Wrap(tx.SaveLifecycle(ctx, lifecycle), "saving lifecycle")
}

// findOrCreateLifecycle looks up the Lifecycle for instanceID, creating
// one if absent. Multiple matches should never occur (instance_id is
// unique); the first result is used defensively.
func findOrCreateLifecycle(ctx context.Context, tx store.Store, instanceID string) (store.Lifecycle, error) {
	found, err := tx.FindLifecycles(ctx, instanceID)
	if err != nil {
		return store.Lifecycle{}, errors.Wrap(err, "finding lifecycle")
	}
	if len(found) > 0 {
		return found[0], nil
	}
	l, err := tx.CreateLifecycle(ctx, instanceID)
	return l, errors.Wrap(err, "creating lifecycle")
}

// findOrCreateTiming looks up the Timing for (lifecycleID, name),
// breaking ties on the earliest id, creating one if absent.
func findOrCreateTiming(ctx context.Context, tx store.Store, lifecycleID int64, name string) (store.Timing, error) {
	found, err := tx.FindTimings(ctx, lifecycleID, name)
	if err != nil {
		return store.Timing{}, errors.Wrap(err, "finding timing")
	}
	if len(found) > 0 {
		earliest := found[0]
		for _, t := range found[1:] {
			if t.ID < earliest.ID {
				earliest = t
			}
		}
		return earliest, nil
	}
	t, err := tx.CreateTiming(ctx, lifecycleID, name)
	return t, errors.Wrap(err, "creating timing")
}
