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

// Package verifier cross-checks pending InstanceExists records against
// InstanceUsage/InstanceDelete, falling back to InstanceReconcile on
// mismatch, and republishes verified ones through a publisher.
package verifier

import "fmt"

// NotFoundError reports that a required referenced row (Usage, Delete, or
// Reconcile) does not exist.
type NotFoundError struct {
	Kind  string
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Query)
}

// AmbiguousResultsError reports that more than one row matched a lookup
// that must resolve to exactly one.
type AmbiguousResultsError struct {
	Kind  string
	Query string
}

func (e *AmbiguousResultsError) Error() string {
	return fmt.Sprintf("ambiguous results for %s: %s", e.Kind, e.Query)
}

// FieldMismatchError reports that one field disagreed between the Exists
// record and the row it was checked against. Only the first mismatching
// field is reported; verifyFieldMismatch stops as soon as it finds one.
type FieldMismatchError struct {
	Field    string
	Expected interface{}
	Actual   interface{}
}

func (e *FieldMismatchError) Error() string {
	return fmt.Sprintf("field mismatch: %s expected %v, got %v", e.Field, e.Expected, e.Actual)
}

// VerificationError reports a structural precondition failure -- the
// data was inconsistent in a way no field comparison explains (e.g. a
// delete exists for something that was never reported deleted).
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return e.Reason
}
