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

package pg

import (
	"context"

	"github.com/huangshunping/stacktach/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const findLifecyclesSQL = `
SELECT id, instance_id, last_raw_id, last_state, last_task_state
FROM lifecycle WHERE instance_id = $1 ORDER BY id`

// FindLifecycles implements store.Store.
func (s *Store) FindLifecycles(ctx context.Context, instanceID string) ([]store.Lifecycle, error) {
	rows, err := s.q.Query(ctx, findLifecyclesSQL, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "finding lifecycles")
	}
	defer rows.Close()

	var out []store.Lifecycle
	for rows.Next() {
		var l store.Lifecycle
		if err := rows.Scan(&l.ID, &l.InstanceID, &l.LastRawID, &l.LastState, &l.LastTaskState); err != nil {
			return nil, errors.Wrap(err, "scanning lifecycle")
		}
		out = append(out, l)
	}
	return out, errors.Wrap(rows.Err(), "iterating lifecycles")
}

const createLifecycleSQL = `
INSERT INTO lifecycle (instance_id, last_state, last_task_state)
VALUES ($1, '', '')
ON CONFLICT (instance_id) DO NOTHING
RETURNING id, instance_id, last_raw_id, last_state, last_task_state`

const getLifecycleSQL = `
SELECT id, instance_id, last_raw_id, last_state, last_task_state
FROM lifecycle WHERE instance_id = $1`

// CreateLifecycle implements store.Store. instance_id is unique; a
// concurrent insert from another aggregator process is resolved by
// retrying as a fetch rather than failing.
func (s *Store) CreateLifecycle(ctx context.Context, instanceID string) (store.Lifecycle, error) {
	var l store.Lifecycle
	err := s.q.QueryRow(ctx, createLifecycleSQL, instanceID).
		Scan(&l.ID, &l.InstanceID, &l.LastRawID, &l.LastState, &l.LastTaskState)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Lifecycle{}, errors.Wrap(err, "creating lifecycle")
	}

	// Lost the insert race: another process already created this
	// instance's lifecycle. Fetch it instead.
	err = s.q.QueryRow(ctx, getLifecycleSQL, instanceID).
		Scan(&l.ID, &l.InstanceID, &l.LastRawID, &l.LastState, &l.LastTaskState)
	return l, errors.Wrap(err, "fetching lifecycle after insert conflict")
}

const saveLifecycleSQL = `
UPDATE lifecycle SET last_raw_id = $2, last_state = $3, last_task_state = $4
WHERE id = $1`

// SaveLifecycle implements store.Store.
func (s *Store) SaveLifecycle(ctx context.Context, l store.Lifecycle) error {
	_, err := s.q.Exec(ctx, saveLifecycleSQL, l.ID, l.LastRawID, l.LastState, l.LastTaskState)
	return errors.Wrap(err, "saving lifecycle")
}

const findTimingsSQL = `
SELECT id, lifecycle_id, name, start_raw_id, start_when, end_raw_id, end_when, diff
FROM timing WHERE lifecycle_id = $1 AND name = $2 ORDER BY id`

// FindTimings implements store.Store.
func (s *Store) FindTimings(ctx context.Context, lifecycleID int64, name string) ([]store.Timing, error) {
	rows, err := s.q.Query(ctx, findTimingsSQL, lifecycleID, name)
	if err != nil {
		return nil, errors.Wrap(err, "finding timings")
	}
	defer rows.Close()

	var out []store.Timing
	for rows.Next() {
		var t store.Timing
		if err := rows.Scan(&t.ID, &t.LifecycleID, &t.Name, &t.StartRawID, &t.StartWhen,
			&t.EndRawID, &t.EndWhen, &t.Diff); err != nil {
			return nil, errors.Wrap(err, "scanning timing")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterating timings")
}

const createTimingSQL = `
INSERT INTO timing (lifecycle_id, name) VALUES ($1, $2)
ON CONFLICT (lifecycle_id, name) DO NOTHING
RETURNING id, lifecycle_id, name, start_raw_id, start_when, end_raw_id, end_when, diff`

const getTimingSQL = `
SELECT id, lifecycle_id, name, start_raw_id, start_when, end_raw_id, end_when, diff
FROM timing WHERE lifecycle_id = $1 AND name = $2 ORDER BY id LIMIT 1`

// CreateTiming implements store.Store. (lifecycle_id, name) is unique;
// a lost insert race is retried as a fetch of the earliest matching row,
// which is the tie-break the aggregator relies on when more than one
// start/end pair is reported for the same name.
func (s *Store) CreateTiming(ctx context.Context, lifecycleID int64, name string) (store.Timing, error) {
	var t store.Timing
	err := s.q.QueryRow(ctx, createTimingSQL, lifecycleID, name).
		Scan(&t.ID, &t.LifecycleID, &t.Name, &t.StartRawID, &t.StartWhen, &t.EndRawID, &t.EndWhen, &t.Diff)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Timing{}, errors.Wrap(err, "creating timing")
	}

	err = s.q.QueryRow(ctx, getTimingSQL, lifecycleID, name).
		Scan(&t.ID, &t.LifecycleID, &t.Name, &t.StartRawID, &t.StartWhen, &t.EndRawID, &t.EndWhen, &t.Diff)
	return t, errors.Wrap(err, "fetching timing after insert conflict")
}

const saveTimingSQL = `
UPDATE timing SET start_raw_id = $2, start_when = $3, end_raw_id = $4,
	end_when = $5, diff = $6
WHERE id = $1`

// SaveTiming implements store.Store.
func (s *Store) SaveTiming(ctx context.Context, t store.Timing) error {
	_, err := s.q.Exec(ctx, saveTimingSQL, t.ID, t.StartRawID, t.StartWhen, t.EndRawID, t.EndWhen, t.Diff)
	return errors.Wrap(err, "saving timing")
}

const findRequestTrackersSQL = `
SELECT id, request_id, lifecycle_id, start, last_timing_id, duration
FROM request_tracker WHERE request_id = $1 ORDER BY id`

// FindRequestTrackers implements store.Store.
func (s *Store) FindRequestTrackers(ctx context.Context, requestID string) ([]store.RequestTracker, error) {
	rows, err := s.q.Query(ctx, findRequestTrackersSQL, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "finding request trackers")
	}
	defer rows.Close()

	var out []store.RequestTracker
	for rows.Next() {
		var rt store.RequestTracker
		if err := rows.Scan(&rt.ID, &rt.RequestID, &rt.LifecycleID, &rt.Start, &rt.LastTimingID, &rt.Duration); err != nil {
			return nil, errors.Wrap(err, "scanning request tracker")
		}
		out = append(out, rt)
	}
	return out, errors.Wrap(rows.Err(), "iterating request trackers")
}

const createRequestTrackerSQL = `
INSERT INTO request_tracker (request_id, lifecycle_id, start, last_timing_id, duration)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

// CreateRequestTracker implements store.Store.
func (s *Store) CreateRequestTracker(ctx context.Context, rt store.RequestTracker) (store.RequestTracker, error) {
	err := s.q.QueryRow(ctx, createRequestTrackerSQL,
		rt.RequestID, rt.LifecycleID, rt.Start, nullableID(rt.LastTimingID), rt.Duration,
	).Scan(&rt.ID)
	return rt, errors.Wrap(err, "creating request tracker")
}

const saveRequestTrackerSQL = `
UPDATE request_tracker SET last_timing_id = $2, duration = $3 WHERE id = $1`

// SaveRequestTracker implements store.Store.
func (s *Store) SaveRequestTracker(ctx context.Context, rt store.RequestTracker) error {
	_, err := s.q.Exec(ctx, saveRequestTrackerSQL, rt.ID, nullableID(rt.LastTimingID), rt.Duration)
	return errors.Wrap(err, "saving request tracker")
}

// nullableID maps a zero surrogate id (meaning "unbound") to SQL NULL.
func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
