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

	"github.com/huangshunping/stacktach/internal/store"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory store.Store used by this package's tests, in
// place of a live Postgres instance.
type fakeStore struct {
	nextID int64

	rawData    []store.RawData
	usages     []store.InstanceUsage
	deletes    []store.InstanceDelete
	exists     []store.InstanceExists
	reconciles []store.InstanceReconcile
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) CreateRawData(ctx context.Context, r store.RawData) (store.RawData, error) {
	r.ID = s.id()
	s.rawData = append(s.rawData, r)
	return r, nil
}

func (s *fakeStore) GetRawData(ctx context.Context, id int64) (store.RawData, error) {
	for _, r := range s.rawData {
		if r.ID == id {
			return r, nil
		}
	}
	return store.RawData{}, errNotFound
}

func (s *fakeStore) FindLifecycles(ctx context.Context, instanceID string) ([]store.Lifecycle, error) {
	return nil, nil
}

func (s *fakeStore) CreateLifecycle(ctx context.Context, instanceID string) (store.Lifecycle, error) {
	return store.Lifecycle{}, nil
}

func (s *fakeStore) SaveLifecycle(ctx context.Context, l store.Lifecycle) error {
	return nil
}

func (s *fakeStore) FindTimings(ctx context.Context, lifecycleID int64, name string) ([]store.Timing, error) {
	return nil, nil
}

func (s *fakeStore) CreateTiming(ctx context.Context, lifecycleID int64, name string) (store.Timing, error) {
	return store.Timing{}, nil
}

func (s *fakeStore) SaveTiming(ctx context.Context, t store.Timing) error {
	return nil
}

func (s *fakeStore) FindRequestTrackers(ctx context.Context, requestID string) ([]store.RequestTracker, error) {
	return nil, nil
}

func (s *fakeStore) CreateRequestTracker(ctx context.Context, rt store.RequestTracker) (store.RequestTracker, error) {
	return store.RequestTracker{}, nil
}

func (s *fakeStore) SaveRequestTracker(ctx context.Context, rt store.RequestTracker) error {
	return nil
}

func (s *fakeStore) GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (store.InstanceUsage, bool, error) {
	for _, u := range s.usages {
		if u.InstanceID == instanceID && u.RequestID == requestID {
			return u, false, nil
		}
	}
	u := store.InstanceUsage{ID: s.id(), InstanceID: instanceID, RequestID: requestID}
	s.usages = append(s.usages, u)
	return u, true, nil
}

func (s *fakeStore) SaveInstanceUsage(ctx context.Context, u store.InstanceUsage) error {
	for i := range s.usages {
		if s.usages[i].ID == u.ID {
			s.usages[i] = u
			return nil
		}
	}
	return nil
}

func (s *fakeStore) FindInstanceUsageByLaunch(ctx context.Context, instanceID string, r store.RangeFilter) ([]store.InstanceUsage, error) {
	var out []store.InstanceUsage
	for _, u := range s.usages {
		if u.InstanceID == instanceID && inRange(u.LaunchedAt, r) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) CountInstanceUsage(ctx context.Context, instanceID string) (int, error) {
	n := 0
	for _, u := range s.usages {
		if u.InstanceID == instanceID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (store.InstanceDelete, bool, error) {
	for _, d := range s.deletes {
		if d.InstanceID == instanceID && d.DeletedAt.Equal(deletedAt) {
			return d, false, nil
		}
	}
	d := store.InstanceDelete{ID: s.id(), InstanceID: instanceID, DeletedAt: deletedAt}
	s.deletes = append(s.deletes, d)
	return d, true, nil
}

func (s *fakeStore) SaveInstanceDelete(ctx context.Context, d store.InstanceDelete) error {
	for i := range s.deletes {
		if s.deletes[i].ID == d.ID {
			s.deletes[i] = d
			return nil
		}
	}
	return nil
}

func (s *fakeStore) FindInstanceDeleteByLaunch(ctx context.Context, instanceID string, r store.RangeFilter, deletedAtMax *decimal.Decimal) ([]store.InstanceDelete, error) {
	var out []store.InstanceDelete
	for _, d := range s.deletes {
		if d.InstanceID != instanceID || !inRange(d.LaunchedAt, r) {
			continue
		}
		if deletedAtMax != nil && d.DeletedAt.GreaterThan(*deletedAtMax) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) CreateInstanceExists(ctx context.Context, e store.InstanceExists) (store.InstanceExists, error) {
	for _, existing := range s.exists {
		if existing.MessageID == e.MessageID {
			return store.InstanceExists{}, errConflict
		}
	}
	e.ID = s.id()
	s.exists = append(s.exists, e)
	return e, nil
}

func (s *fakeStore) SaveInstanceExists(ctx context.Context, e store.InstanceExists) error {
	for i := range s.exists {
		if s.exists[i].ID == e.ID {
			s.exists[i] = e
			return nil
		}
	}
	return nil
}

func (s *fakeStore) FindPendingExists(ctx context.Context, endingMax decimal.Decimal, limit int) ([]store.InstanceExists, error) {
	var out []store.InstanceExists
	for i := range s.exists {
		if len(out) >= limit {
			break
		}
		if s.exists[i].Status == store.ExistsPending && !s.exists[i].AuditPeriodEnding.GreaterThan(endingMax) {
			s.exists[i].Status = store.ExistsVerifying
			out = append(out, s.exists[i])
		}
	}
	return out, nil
}

func (s *fakeStore) FindReconcile(ctx context.Context, instanceID string, r store.RangeFilter) ([]store.InstanceReconcile, error) {
	var out []store.InstanceReconcile
	for _, rc := range s.reconciles {
		if rc.InstanceID == instanceID && inRange(rc.LaunchedAt, r) {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (s *fakeStore) CountReconcile(ctx context.Context, instanceID string) (int, error) {
	n := 0
	for _, rc := range s.reconciles {
		if rc.InstanceID == instanceID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, s)
}

func inRange(v decimal.Decimal, r store.RangeFilter) bool {
	return !v.LessThan(r.Start) && !v.GreaterThan(r.End)
}

type conflictError struct{ msg string }

func (e *conflictError) Error() string { return e.msg }

var errConflict = &conflictError{msg: "duplicate message_id"}
var errNotFound = &conflictError{msg: "not found"}

var _ store.Store = (*fakeStore)(nil)
