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

// Package aggregator turns parsed notification envelopes into the derived
// Lifecycle, Timing, RequestTracker, InstanceUsage, InstanceDelete, and
// InstanceExists rows. Every entry point runs inside one store
// transaction; a failure anywhere rolls the whole event back.
package aggregator

import (
	"context"
	"time"

	"github.com/huangshunping/stacktach/internal/envelope"
	"github.com/huangshunping/stacktach/internal/store"
	"github.com/huangshunping/stacktach/internal/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Source is the boundary this core depends on instead of any particular
// message-bus client: something that hands the aggregator raw envelopes
// one at a time. A future AMQP consumer, HTTP webhook, or batch replay
// tool implements this without the aggregator knowing which.
type Source interface {
	// Next blocks until a raw envelope is available or ctx is canceled.
	// deployment identifies which upstream deployment emitted envelopeJSON.
	Next(ctx context.Context) (deployment string, routingKey string, envelopeJSON string, err error)
}

// Service is the entry point for the Event Aggregator subsystem.
type Service struct {
	store  store.Store
	parser *envelope.Parser
}

// NewService builds a Service over st, using p to parse incoming
// envelopes.
func NewService(st store.Store, p *envelope.Parser) *Service {
	return &Service{store: st, parser: p}
}

// ProcessRaw parses one envelope, records it as a RawData row, and
// drives the lifecycle and usage aggregators from it -- all inside a
// single transaction. A recognized-but-empty routing key is a no-op, not
// an error; an unparseable envelope is dropped with a logged warning per
// the ParseError policy.
func (s *Service) ProcessRaw(ctx context.Context, deployment, routingKey, envelopeJSON string) error {
	start := time.Now()
	defer func() {
		telemetry.RawProcessDuration.WithLabelValues(routingKey).Observe(time.Since(start).Seconds())
	}()

	fields, ok, err := s.parser.Parse(deployment, envelopeJSON)
	if err != nil {
		log.WithError(err).WithField("routing_key", routingKey).Warn("dropping unparseable envelope")
		return nil
	}
	if !ok {
		return nil
	}

	telemetry.RawProcessed.WithLabelValues(routingKey).Inc()

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		rawRow, err := tx.CreateRawData(ctx, store.RawData{
			Deployment: fields.Deployment,
			When:       fields.When,
			Host:       fields.Host,
			Service:    fields.Service,
			RoutingKey: fields.RoutingKey,
			Event:      fields.Event,
			RequestID:  fields.RequestID,
			InstanceID: fields.InstanceID,
			JSON:       fields.JSON,
			State:      fields.State,
			OldTask:    fields.OldTask,
		})
		if err != nil {
			return errors.Wrap(err, "recording raw data")
		}

		if err := aggregateLifecycle(ctx, tx, rawRow, fields); err != nil {
			return errors.Wrap(err, "aggregating lifecycle")
		}

		if err := aggregateUsage(ctx, tx, rawRow, fields); err != nil {
			return errors.Wrap(err, "aggregating usage")
		}

		return nil
	})
	if err != nil {
		telemetry.RawProcessErrors.WithLabelValues(routingKey).Inc()
	}
	return err
}
