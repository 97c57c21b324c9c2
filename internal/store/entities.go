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

// Package store defines the derived-entity model and the CRUD/range-query
// interface every aggregator and verifier component mutates through. No
// component is permitted to reach around Store to the underlying database;
// see internal/store/pg for the sole implementation.
package store

import "github.com/shopspring/decimal"

// ExistsStatus is the terminal-state machine for InstanceExists rows.
type ExistsStatus string

// Exists status values. Once in VERIFIED, RECONCILED, or FAILED, a row
// never transitions again.
const (
	ExistsPending   ExistsStatus = "PENDING"
	ExistsVerifying ExistsStatus = "VERIFYING"
	ExistsVerified  ExistsStatus = "VERIFIED"
	ExistsReconciled ExistsStatus = "RECONCILED"
	ExistsFailed    ExistsStatus = "FAILED"
)

// Terminal reports whether s is one of the no-further-transition states.
func (s ExistsStatus) Terminal() bool {
	switch s {
	case ExistsVerified, ExistsReconciled, ExistsFailed:
		return true
	default:
		return false
	}
}

// RawData is an immutable record of one incoming notification envelope.
type RawData struct {
	ID         int64
	Deployment string
	When       decimal.Decimal
	Host       string
	Service    string
	RoutingKey string
	Event      string
	RequestID  string
	InstanceID string // empty if the event carried no instance_id
	JSON       string
	State      string
	OldTask    string
}

// Lifecycle is the per-instance aggregate view. InstanceID is unique.
type Lifecycle struct {
	ID            int64
	InstanceID    string
	LastRawID     int64
	LastState     string
	LastTaskState string
}

// Timing is a start/end pair for a named event on a Lifecycle. The pair
// (LifecycleID, Name) is unique.
type Timing struct {
	ID          int64
	LifecycleID int64
	Name        string
	StartRawID  int64
	StartWhen   decimal.Decimal // zero value means unset
	EndRawID    int64
	EndWhen     decimal.Decimal
	Diff        decimal.Decimal
}

// HasStart reports whether the start side of the pair has been populated.
func (t Timing) HasStart() bool { return !t.StartWhen.IsZero() }

// HasEnd reports whether the end side of the pair has been populated.
func (t Timing) HasEnd() bool { return !t.EndWhen.IsZero() }

// RequestTracker accumulates API-entry-to-terminal-timing latency for one
// request_id.
type RequestTracker struct {
	ID          int64
	RequestID   string
	LifecycleID int64
	Start       decimal.Decimal
	LastTimingID int64
	Duration    decimal.Decimal
}

// InstanceUsage is a billing usage record, keyed by (InstanceID, RequestID).
type InstanceUsage struct {
	ID              int64
	InstanceID      string
	RequestID       string
	LaunchedAt      decimal.Decimal // zero value means unset
	InstanceTypeID  string
	Tenant          string
	OSArchitecture  string
	OSVersion       string
	OSDistro        string
	RaxOptions      string
}

// InstanceDelete is a delete record, keyed by (InstanceID, DeletedAt).
type InstanceDelete struct {
	ID         int64
	InstanceID string
	LaunchedAt decimal.Decimal // zero value means unset
	DeletedAt  decimal.Decimal
}

// InstanceExists is an audit/billing record, immutable except Status and
// FailReason.
type InstanceExists struct {
	ID                  int64
	MessageID           string
	InstanceID          string
	LaunchedAt          decimal.Decimal
	DeletedAt           decimal.Decimal // zero value means unset
	AuditPeriodBeginning decimal.Decimal
	AuditPeriodEnding   decimal.Decimal
	InstanceTypeID      string
	UsageID             int64 // 0 means unbound
	DeleteID            int64 // 0 means unbound
	RawID               int64
	Tenant              string
	OSArchitecture      string
	OSVersion           string
	OSDistro            string
	RaxOptions          string
	Status              ExistsStatus
	FailReason          string
}

// InstanceReconcile mirrors the join keys of Usage+Delete. It is populated
// by an external, out-of-band process and is read-only to the core.
type InstanceReconcile struct {
	ID             int64
	InstanceID     string
	LaunchedAt     decimal.Decimal
	DeletedAt      decimal.Decimal
	InstanceTypeID string
	Tenant         string
	OSArchitecture string
	OSVersion      string
	OSDistro       string
	RaxOptions     string
}
