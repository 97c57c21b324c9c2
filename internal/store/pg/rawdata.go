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
)

const createRawDataSQL = `
INSERT INTO raw_data
	(deployment, "when", host, service, routing_key, event, request_id,
	 instance_id, json, state, old_task)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`

// CreateRawData implements store.Store. RawData is immutable after
// creation, so this is the only write path for the table.
func (s *Store) CreateRawData(ctx context.Context, r store.RawData) (store.RawData, error) {
	err := s.q.QueryRow(ctx, createRawDataSQL,
		r.Deployment, r.When, r.Host, r.Service, r.RoutingKey, r.Event,
		r.RequestID, nullableString(r.InstanceID), r.JSON,
		nullableString(r.State), nullableString(r.OldTask),
	).Scan(&r.ID)
	if err != nil {
		return store.RawData{}, errors.Wrap(err, "creating raw_data row")
	}
	return r, nil
}

const getRawDataSQL = `
SELECT id, deployment, "when", host, service, routing_key, event,
	request_id, COALESCE(instance_id, ''), json, COALESCE(state, ''),
	COALESCE(old_task, '')
FROM raw_data
WHERE id = $1`

// GetRawData implements store.Store.
func (s *Store) GetRawData(ctx context.Context, id int64) (store.RawData, error) {
	var r store.RawData
	err := s.q.QueryRow(ctx, getRawDataSQL, id).Scan(
		&r.ID, &r.Deployment, &r.When, &r.Host, &r.Service, &r.RoutingKey,
		&r.Event, &r.RequestID, &r.InstanceID, &r.JSON, &r.State, &r.OldTask,
	)
	if err != nil {
		return store.RawData{}, errors.Wrapf(err, "getting raw_data row %d", id)
	}
	return r, nil
}

// nullableString maps an empty Go string to SQL NULL, and otherwise
// passes the value through. Several optional payload fields (old_task,
// state, instance_id) are absent far more often than present.
func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
