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
	"github.com/shopspring/decimal"
)

func scanUsage(row pgx.Row) (store.InstanceUsage, error) {
	var u store.InstanceUsage
	err := row.Scan(&u.ID, &u.InstanceID, &u.RequestID, &u.LaunchedAt, &u.InstanceTypeID,
		&u.Tenant, &u.OSArchitecture, &u.OSVersion, &u.OSDistro, &u.RaxOptions)
	return u, err
}

const usageColumns = `id, instance_id, request_id, launched_at, instance_type_id,
	tenant, os_architecture, os_version, os_distro, rax_options`

const createInstanceUsageSQL = `
INSERT INTO instance_usage (instance_id, request_id)
VALUES ($1, $2)
ON CONFLICT (instance_id, request_id) DO NOTHING
RETURNING ` + usageColumns

const getInstanceUsageSQL = `SELECT ` + usageColumns + `
FROM instance_usage WHERE instance_id = $1 AND request_id = $2`

// GetOrCreateInstanceUsage implements store.Store.
func (s *Store) GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (store.InstanceUsage, bool, error) {
	u, err := scanUsage(s.q.QueryRow(ctx, createInstanceUsageSQL, instanceID, requestID))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.InstanceUsage{}, false, errors.Wrap(err, "creating instance_usage")
	}

	u, err = scanUsage(s.q.QueryRow(ctx, getInstanceUsageSQL, instanceID, requestID))
	return u, false, errors.Wrap(err, "fetching instance_usage after insert conflict")
}

const saveInstanceUsageSQL = `
UPDATE instance_usage SET launched_at = $2, instance_type_id = $3, tenant = $4,
	os_architecture = $5, os_version = $6, os_distro = $7, rax_options = $8
WHERE id = $1`

// SaveInstanceUsage implements store.Store.
func (s *Store) SaveInstanceUsage(ctx context.Context, u store.InstanceUsage) error {
	_, err := s.q.Exec(ctx, saveInstanceUsageSQL, u.ID, nullableDecimal(u.LaunchedAt),
		u.InstanceTypeID, u.Tenant, u.OSArchitecture, u.OSVersion, u.OSDistro, u.RaxOptions)
	return errors.Wrap(err, "saving instance_usage")
}

const findInstanceUsageByLaunchSQL = `SELECT ` + usageColumns + `
FROM instance_usage
WHERE instance_id = $1 AND launched_at >= $2 AND launched_at <= $3
ORDER BY id`

// FindInstanceUsageByLaunch implements store.Store.
func (s *Store) FindInstanceUsageByLaunch(ctx context.Context, instanceID string, r store.RangeFilter) ([]store.InstanceUsage, error) {
	rows, err := s.q.Query(ctx, findInstanceUsageByLaunchSQL, instanceID, r.Start, r.End)
	if err != nil {
		return nil, errors.Wrap(err, "finding instance_usage by launch window")
	}
	defer rows.Close()

	var out []store.InstanceUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning instance_usage")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "iterating instance_usage")
}

const countInstanceUsageSQL = `SELECT count(*) FROM instance_usage WHERE instance_id = $1`

// CountInstanceUsage implements store.Store.
func (s *Store) CountInstanceUsage(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, countInstanceUsageSQL, instanceID).Scan(&n)
	return n, errors.Wrap(err, "counting instance_usage")
}

func scanDelete(row pgx.Row) (store.InstanceDelete, error) {
	var d store.InstanceDelete
	err := row.Scan(&d.ID, &d.InstanceID, &d.LaunchedAt, &d.DeletedAt)
	return d, err
}

const deleteColumns = `id, instance_id, launched_at, deleted_at`

const createInstanceDeleteSQL = `
INSERT INTO instance_delete (instance_id, deleted_at)
VALUES ($1, $2)
ON CONFLICT (instance_id, deleted_at) DO NOTHING
RETURNING ` + deleteColumns

const getInstanceDeleteSQL = `SELECT ` + deleteColumns + `
FROM instance_delete WHERE instance_id = $1 AND deleted_at = $2`

// GetOrCreateInstanceDelete implements store.Store.
func (s *Store) GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (store.InstanceDelete, bool, error) {
	d, err := scanDelete(s.q.QueryRow(ctx, createInstanceDeleteSQL, instanceID, deletedAt))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.InstanceDelete{}, false, errors.Wrap(err, "creating instance_delete")
	}

	d, err = scanDelete(s.q.QueryRow(ctx, getInstanceDeleteSQL, instanceID, deletedAt))
	return d, false, errors.Wrap(err, "fetching instance_delete after insert conflict")
}

const saveInstanceDeleteSQL = `UPDATE instance_delete SET launched_at = $2 WHERE id = $1`

// SaveInstanceDelete implements store.Store.
func (s *Store) SaveInstanceDelete(ctx context.Context, d store.InstanceDelete) error {
	_, err := s.q.Exec(ctx, saveInstanceDeleteSQL, d.ID, nullableDecimal(d.LaunchedAt))
	return errors.Wrap(err, "saving instance_delete")
}

const findInstanceDeleteByLaunchSQL = `SELECT ` + deleteColumns + `
FROM instance_delete
WHERE instance_id = $1 AND launched_at >= $2 AND launched_at <= $3`

const findInstanceDeleteByLaunchMaxSQL = findInstanceDeleteByLaunchSQL + ` AND deleted_at <= $4`

// FindInstanceDeleteByLaunch implements store.Store.
func (s *Store) FindInstanceDeleteByLaunch(
	ctx context.Context, instanceID string, r store.RangeFilter, deletedAtMax *decimal.Decimal,
) ([]store.InstanceDelete, error) {
	var rows pgx.Rows
	var err error
	if deletedAtMax == nil {
		rows, err = s.q.Query(ctx, findInstanceDeleteByLaunchSQL, instanceID, r.Start, r.End)
	} else {
		rows, err = s.q.Query(ctx, findInstanceDeleteByLaunchMaxSQL, instanceID, r.Start, r.End, *deletedAtMax)
	}
	if err != nil {
		return nil, errors.Wrap(err, "finding instance_delete by launch window")
	}
	defer rows.Close()

	var out []store.InstanceDelete
	for rows.Next() {
		d, err := scanDelete(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning instance_delete")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "iterating instance_delete")
}

// nullableDecimal maps an unset (zero-value) decimal to SQL NULL.
func nullableDecimal(d decimal.Decimal) interface{} {
	if d.IsZero() {
		return nil
	}
	return d
}
