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
	"github.com/huangshunping/stacktach/internal/tsdecimal"
	"github.com/shopspring/decimal"
)

// launch is the subset of fields verifyFieldMismatch compares, satisfied
// by both InstanceUsage and InstanceReconcile.
type launch struct {
	LaunchedAt     decimal.Decimal
	InstanceTypeID string
	Tenant         string
	RaxOptions     string
	OSArchitecture string
	OSVersion      string
	OSDistro       string
}

func launchFromUsage(u store.InstanceUsage) launch {
	return launch{
		LaunchedAt:     u.LaunchedAt,
		InstanceTypeID: u.InstanceTypeID,
		Tenant:         u.Tenant,
		RaxOptions:     u.RaxOptions,
		OSArchitecture: u.OSArchitecture,
		OSVersion:      u.OSVersion,
		OSDistro:       u.OSDistro,
	}
}

func launchFromReconcile(r store.InstanceReconcile) launch {
	return launch{
		LaunchedAt:     r.LaunchedAt,
		InstanceTypeID: r.InstanceTypeID,
		Tenant:         r.Tenant,
		RaxOptions:     r.RaxOptions,
		OSArchitecture: r.OSArchitecture,
		OSVersion:      r.OSVersion,
		OSDistro:       r.OSDistro,
	}
}

// verifyFieldMismatch compares every identity field of exist against l,
// stopping at the first FieldMismatchError encountered.
func verifyFieldMismatch(exist store.InstanceExists, l launch) error {
	if !tsdecimal.EqualSecond(l.LaunchedAt, exist.LaunchedAt) {
		return &FieldMismatchError{Field: "launched_at", Expected: exist.LaunchedAt, Actual: l.LaunchedAt}
	}
	if l.InstanceTypeID != exist.InstanceTypeID {
		return &FieldMismatchError{Field: "instance_type_id", Expected: exist.InstanceTypeID, Actual: l.InstanceTypeID}
	}
	if l.Tenant != exist.Tenant {
		return &FieldMismatchError{Field: "tenant", Expected: exist.Tenant, Actual: l.Tenant}
	}
	if l.RaxOptions != exist.RaxOptions {
		return &FieldMismatchError{Field: "rax_options", Expected: exist.RaxOptions, Actual: l.RaxOptions}
	}
	if l.OSArchitecture != exist.OSArchitecture {
		return &FieldMismatchError{Field: "os_architecture", Expected: exist.OSArchitecture, Actual: l.OSArchitecture}
	}
	if l.OSVersion != exist.OSVersion {
		return &FieldMismatchError{Field: "os_version", Expected: exist.OSVersion, Actual: l.OSVersion}
	}
	if l.OSDistro != exist.OSDistro {
		return &FieldMismatchError{Field: "os_distro", Expected: exist.OSDistro, Actual: l.OSDistro}
	}
	return nil
}

// verifyForLaunch resolves the Usage exist should match -- preferring
// exist.UsageID if already bound, otherwise looking one up by
// (instance_id, launched_at second-window) -- and compares every
// identity field.
func verifyForLaunch(ctx context.Context, st store.Store, exist store.InstanceExists) error {
	l, err := resolveLaunch(ctx, st, exist, "InstanceUsage")
	if err != nil {
		return err
	}
	return verifyFieldMismatch(exist, l)
}

// resolveLaunch returns the InstanceUsage row exist should be checked
// against -- exist.UsageID's row if bound, otherwise the unique match in
// the launched_at second-window.
func resolveLaunch(ctx context.Context, st store.Store, exist store.InstanceExists, kind string) (launch, error) {
	start, end := tsdecimal.SecondWindow(exist.LaunchedAt)
	matches, err := st.FindInstanceUsageByLaunch(ctx, exist.InstanceID, store.RangeFilter{Start: start, End: end})
	if err != nil {
		return launch{}, err
	}

	if exist.UsageID != 0 {
		for _, u := range matches {
			if u.ID == exist.UsageID {
				return launchFromUsage(u), nil
			}
		}
		// The bound usage row didn't fall in the window scan (defensive;
		// should not happen given how processExists binds UsageID) -- fall
		// through to the count-based resolution below.
	}

	switch {
	case len(matches) == 0:
		return launch{}, &NotFoundError{Kind: kind, Query: exist.InstanceID}
	case len(matches) > 1:
		return launch{}, &AmbiguousResultsError{Kind: kind, Query: exist.InstanceID}
	}
	return launchFromUsage(matches[0]), nil
}

// verifyForDelete checks exist's delete-side fields. Three cases: exist
// has a bound/resolvable Delete (verify it matches); exist names a
// deleted_at but no Delete can be found (NotFound); exist names no
// deleted_at but a Delete already exists for this instance whose
// deleted_at is at or before audit_period_ending (structural
// inconsistency -- we should have known about the delete). When exist
// names no deleted_at and no such Delete exists, the check passes: a
// Usage with no Delete at all is not compared against
// audit_period_ending, however old it is.
func verifyForDelete(ctx context.Context, st store.Store, exist store.InstanceExists) error {
	start, end := tsdecimal.SecondWindow(exist.LaunchedAt)
	window := store.RangeFilter{Start: start, End: end}

	if !exist.DeletedAt.IsZero() {
		deletes, err := st.FindInstanceDeleteByLaunch(ctx, exist.InstanceID, window, nil)
		if err != nil {
			return err
		}
		var del *store.InstanceDelete
		for i := range deletes {
			if exist.DeleteID != 0 && deletes[i].ID == exist.DeleteID {
				del = &deletes[i]
				break
			}
		}
		if del == nil {
			if len(deletes) == 1 {
				del = &deletes[0]
			} else {
				return &NotFoundError{Kind: "InstanceDelete", Query: exist.InstanceID}
			}
		}
		if !tsdecimal.EqualSecond(del.LaunchedAt, exist.LaunchedAt) {
			return &FieldMismatchError{Field: "launched_at", Expected: exist.LaunchedAt, Actual: del.LaunchedAt}
		}
		if !tsdecimal.EqualSecond(del.DeletedAt, exist.DeletedAt) {
			return &FieldMismatchError{Field: "deleted_at", Expected: exist.DeletedAt, Actual: del.DeletedAt}
		}
		return nil
	}

	// No deleted_at reported on the exist: make sure we haven't already
	// recorded a delete for this instance at or before the end of the
	// audit period, which would mean this exist should have reported one.
	deletes, err := st.FindInstanceDeleteByLaunch(ctx, exist.InstanceID, window, &exist.AuditPeriodEnding)
	if err != nil {
		return err
	}
	if len(deletes) > 0 {
		return &VerificationError{Reason: "Found InstanceDeletes for non-delete exist"}
	}
	return nil
}

// verifyWithReconciledData retries the primary verification against
// InstanceReconcile, the read-only fallback table, when the primary path
// failed.
func verifyWithReconciledData(ctx context.Context, st store.Store, exist store.InstanceExists) error {
	if exist.LaunchedAt.IsZero() {
		return &VerificationError{Reason: "Exists without a launched_at"}
	}

	start, end := tsdecimal.SecondWindow(exist.LaunchedAt)
	recs, err := st.FindReconcile(ctx, exist.InstanceID, store.RangeFilter{Start: start, End: end})
	if err != nil {
		return err
	}

	switch {
	case len(recs) == 0:
		return &NotFoundError{Kind: "InstanceReconcile", Query: exist.InstanceID}
	case len(recs) > 1:
		return &AmbiguousResultsError{Kind: "InstanceReconcile", Query: exist.InstanceID}
	}
	rec := recs[0]

	if err := verifyFieldMismatch(exist, launchFromReconcile(rec)); err != nil {
		return err
	}

	if !exist.DeletedAt.IsZero() {
		if !tsdecimal.EqualSecond(rec.DeletedAt, exist.DeletedAt) {
			return &FieldMismatchError{Field: "deleted_at", Expected: exist.DeletedAt, Actual: rec.DeletedAt}
		}
	}
	return nil
}

// Outcome is the result-of-verification value Verify returns.
type Outcome struct {
	Exist    store.InstanceExists
	Verified bool
}

// Verify runs the full primary -> reconcile -> terminal verification
// algorithm for exist, returning the InstanceExists with its Status (and
// FailReason, if any) set to its terminal value. It never returns an
// error: every failure mode becomes a terminal status instead, so callers
// never need a separate error path alongside the result.
func Verify(ctx context.Context, st store.Store, exist store.InstanceExists) Outcome {
	origErr := verifyPrimary(ctx, st, exist)
	if origErr == nil {
		exist.Status = store.ExistsVerified
		return Outcome{Exist: exist, Verified: true}
	}

	recErr := verifyWithReconciledData(ctx, st, exist)
	switch {
	case recErr == nil:
		exist.Status = store.ExistsReconciled
		exist.FailReason = origErr.Error()
		return Outcome{Exist: exist, Verified: true}
	case isNotFound(recErr):
		exist.Status = store.ExistsFailed
		exist.FailReason = origErr.Error()
	default:
		exist.Status = store.ExistsFailed
		exist.FailReason = recErr.Error()
	}
	return Outcome{Exist: exist, Verified: false}
}

func verifyPrimary(ctx context.Context, st store.Store, exist store.InstanceExists) error {
	if exist.LaunchedAt.IsZero() {
		return &VerificationError{Reason: "Exists without a launched_at"}
	}
	if err := verifyForLaunch(ctx, st, exist); err != nil {
		return err
	}
	return verifyForDelete(ctx, st, exist)
}

func isNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
