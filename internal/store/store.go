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

package store

import (
	"context"

	"github.com/shopspring/decimal"
)

// RangeFilter is an inclusive-start, inclusive-end range over a decimal
// ordering column, used by the range-query find methods.
type RangeFilter struct {
	Start decimal.Decimal
	End   decimal.Decimal
}

// Store is the sole mutation boundary for the derived-entity model. No
// aggregator or verifier component is permitted to issue SQL directly;
// see internal/store/pg for the only implementation, built on pgx/v5.
//
// Every method takes a context so that callers running inside WithTx can
// be canceled along with the enclosing transaction.
type Store interface {
	// CreateRawData persists an immutable raw-event row.
	CreateRawData(ctx context.Context, r RawData) (RawData, error)
	// GetRawData returns the raw-event row by id, read by the publisher
	// to recover the original envelope JSON for a verified Exists.
	GetRawData(ctx context.Context, id int64) (RawData, error)

	// FindLifecycles returns the Lifecycle rows for instanceID. In
	// practice there is at most one; returning a slice rather than a
	// single row lets the aggregator -- not the store -- enforce
	// uniqueness.
	FindLifecycles(ctx context.Context, instanceID string) ([]Lifecycle, error)
	CreateLifecycle(ctx context.Context, instanceID string) (Lifecycle, error)
	SaveLifecycle(ctx context.Context, l Lifecycle) error

	FindTimings(ctx context.Context, lifecycleID int64, name string) ([]Timing, error)
	CreateTiming(ctx context.Context, lifecycleID int64, name string) (Timing, error)
	SaveTiming(ctx context.Context, t Timing) error

	FindRequestTrackers(ctx context.Context, requestID string) ([]RequestTracker, error)
	CreateRequestTracker(ctx context.Context, rt RequestTracker) (RequestTracker, error)
	SaveRequestTracker(ctx context.Context, rt RequestTracker) error

	// GetOrCreateInstanceUsage returns the existing usage row for
	// (instanceID, requestID), or creates an empty one. created reports
	// which happened.
	GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (u InstanceUsage, created bool, err error)
	SaveInstanceUsage(ctx context.Context, u InstanceUsage) error
	// FindInstanceUsageByLaunch returns usage rows for instanceID whose
	// LaunchedAt falls within the inclusive range.
	FindInstanceUsageByLaunch(ctx context.Context, instanceID string, r RangeFilter) ([]InstanceUsage, error)
	// CountInstanceUsage returns the number of usage rows for instanceID,
	// regardless of LaunchedAt.
	CountInstanceUsage(ctx context.Context, instanceID string) (int, error)

	GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (d InstanceDelete, created bool, err error)
	SaveInstanceDelete(ctx context.Context, d InstanceDelete) error
	FindInstanceDeleteByLaunch(ctx context.Context, instanceID string, r RangeFilter, deletedAtMax *decimal.Decimal) ([]InstanceDelete, error)

	CreateInstanceExists(ctx context.Context, e InstanceExists) (InstanceExists, error)
	SaveInstanceExists(ctx context.Context, e InstanceExists) error
	// FindPendingExists returns up to limit PENDING rows whose
	// AuditPeriodEnding is at or before endingMax, claiming the lowest IDs
	// first (the order of the returned slice is not defined), and flips each returned row
	// to VERIFYING in the same statement (SELECT ... FOR UPDATE SKIP
	// LOCKED semantics) so that concurrent verifier processes never claim
	// the same row twice.
	FindPendingExists(ctx context.Context, endingMax decimal.Decimal, limit int) ([]InstanceExists, error)

	// FindReconcile is read-only: InstanceReconcile is populated by an
	// external process, never written by this core.
	FindReconcile(ctx context.Context, instanceID string, r RangeFilter) ([]InstanceReconcile, error)
	CountReconcile(ctx context.Context, instanceID string) (int, error)

	// WithTx runs fn with a Store bound to a single database transaction,
	// committing on success and rolling back on error or panic.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
