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

// Package pg is the Postgres implementation of internal/store.Store,
// built on pgx/v5. It is the sole place in the module that issues SQL.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// querier is implemented by pgxpool.Pool and pgx.Tx, which lets this
// package's SQL helpers run the same way whether or not a transaction is
// open.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)

// Store is the pgx/v5-backed store.Store implementation.
type Store struct {
	pool *pgxpool.Pool
	q    querier // equals pool, unless this Store is bound to a tx by WithTx
}

// Open creates a connection pool and pings it, retrying while the
// database is still starting up.
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connection string")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening connection pool")
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		if err := pool.Ping(ctx); err == nil {
			break
		} else if time.Now().After(deadline) {
			pool.Close()
			return nil, errors.Wrap(err, "database did not become ready")
		} else {
			log.WithError(err).Info("waiting for database to become ready")
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}

	return &Store{pool: pool, q: pool}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.pool.Close()
}
