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
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const existsColumns = `id, message_id, instance_id, launched_at, deleted_at,
	audit_period_beginning, audit_period_ending, instance_type_id,
	usage_id, delete_id, raw_id, tenant, os_architecture, os_version,
	os_distro, rax_options, status, fail_reason`

const createInstanceExistsSQL = `
INSERT INTO instance_exists
	(message_id, instance_id, launched_at, deleted_at, audit_period_beginning,
	 audit_period_ending, instance_type_id, usage_id, delete_id, raw_id,
	 tenant, os_architecture, os_version, os_distro, rax_options, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING id`

// CreateInstanceExists implements store.Store. message_id is unique, and
// unlike the other get-or-create entities a duplicate message_id fails
// the insert outright rather than being retried as a fetch: two exists
// rows sharing a message_id means the same notification was recorded
// twice, not a benign race between aggregator processes.
func (s *Store) CreateInstanceExists(ctx context.Context, e store.InstanceExists) (store.InstanceExists, error) {
	if e.Status == "" {
		e.Status = store.ExistsPending
	}
	err := s.q.QueryRow(ctx, createInstanceExistsSQL,
		e.MessageID, e.InstanceID, e.LaunchedAt, nullableDecimal(e.DeletedAt),
		e.AuditPeriodBeginning, e.AuditPeriodEnding, e.InstanceTypeID,
		nullableID(e.UsageID), nullableID(e.DeleteID), e.RawID,
		e.Tenant, e.OSArchitecture, e.OSVersion, e.OSDistro, e.RaxOptions, e.Status,
	).Scan(&e.ID)
	if err != nil {
		return store.InstanceExists{}, errors.Wrap(err, "creating instance_exists")
	}
	return e, nil
}

const saveInstanceExistsSQL = `
UPDATE instance_exists SET status = $2, fail_reason = $3 WHERE id = $1`

// SaveInstanceExists implements store.Store. InstanceExists is
// immutable except for Status/FailReason, so this is the only update
// path for the table.
func (s *Store) SaveInstanceExists(ctx context.Context, e store.InstanceExists) error {
	_, err := s.q.Exec(ctx, saveInstanceExistsSQL, e.ID, e.Status, nullableString(e.FailReason))
	return errors.Wrap(err, "saving instance_exists")
}

// findPendingExistsSQL claims a batch of PENDING rows whose audit window
// has closed and settled, flipping them to VERIFYING in the same
// statement via a CTE over a FOR UPDATE SKIP LOCKED scan. This makes the
// PENDING->VERIFYING flip atomic across concurrently running verifier
// processes: two processes racing this query can never both claim the
// same row.
const findPendingExistsSQL = `
WITH claimed AS (
	SELECT id FROM instance_exists
	WHERE status = 'PENDING' AND audit_period_ending <= $1
	ORDER BY id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE instance_exists SET status = 'VERIFYING'
WHERE id IN (SELECT id FROM claimed)
RETURNING ` + existsColumns

// FindPendingExists implements store.Store.
func (s *Store) FindPendingExists(ctx context.Context, endingMax decimal.Decimal, limit int) ([]store.InstanceExists, error) {
	rows, err := s.q.Query(ctx, findPendingExistsSQL, endingMax, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claiming pending instance_exists")
	}
	defer rows.Close()

	var out []store.InstanceExists
	for rows.Next() {
		var e store.InstanceExists
		var deletedAt, launchedAt decimal.Decimal
		if err := rows.Scan(&e.ID, &e.MessageID, &e.InstanceID, &launchedAt, &deletedAt,
			&e.AuditPeriodBeginning, &e.AuditPeriodEnding, &e.InstanceTypeID,
			&e.UsageID, &e.DeleteID, &e.RawID, &e.Tenant, &e.OSArchitecture,
			&e.OSVersion, &e.OSDistro, &e.RaxOptions, &e.Status, &e.FailReason); err != nil {
			return nil, errors.Wrap(err, "scanning instance_exists")
		}
		e.LaunchedAt = launchedAt
		e.DeletedAt = deletedAt
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterating instance_exists")
}

const findReconcileSQL = `
SELECT id, instance_id, launched_at, deleted_at, instance_type_id, tenant,
	os_architecture, os_version, os_distro, rax_options
FROM instance_reconcile
WHERE instance_id = $1 AND launched_at >= $2 AND launched_at <= $3`

// FindReconcile implements store.Store. instance_reconcile is populated
// by an external process; this method never writes to it.
func (s *Store) FindReconcile(ctx context.Context, instanceID string, r store.RangeFilter) ([]store.InstanceReconcile, error) {
	rows, err := s.q.Query(ctx, findReconcileSQL, instanceID, r.Start, r.End)
	if err != nil {
		return nil, errors.Wrap(err, "finding instance_reconcile")
	}
	defer rows.Close()

	var out []store.InstanceReconcile
	for rows.Next() {
		var rc store.InstanceReconcile
		if err := rows.Scan(&rc.ID, &rc.InstanceID, &rc.LaunchedAt, &rc.DeletedAt,
			&rc.InstanceTypeID, &rc.Tenant, &rc.OSArchitecture, &rc.OSVersion,
			&rc.OSDistro, &rc.RaxOptions); err != nil {
			return nil, errors.Wrap(err, "scanning instance_reconcile")
		}
		out = append(out, rc)
	}
	return out, errors.Wrap(rows.Err(), "iterating instance_reconcile")
}

const countReconcileSQL = `SELECT count(*) FROM instance_reconcile WHERE instance_id = $1`

// CountReconcile implements store.Store.
func (s *Store) CountReconcile(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, countReconcileSQL, instanceID).Scan(&n)
	return n, errors.Wrap(err, "counting instance_reconcile")
}
