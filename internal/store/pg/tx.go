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

// WithTx implements store.Store: begin a transaction, run fn with a
// Store bound to it, commit on success, and roll back on error or panic.
// A failure anywhere inside fn leaves no derived rows behind.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	txStore := &Store{pool: s.pool, q: pgtx}

	committed := false
	defer func() {
		if !committed {
			_ = pgtx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	committed = true
	return nil
}
