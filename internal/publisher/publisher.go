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

// Package publisher republishes verified InstanceExists rows as rewritten
// envelopes on a durable topic exchange, implementing verifier.Publisher.
package publisher

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/huangshunping/stacktach/internal/store"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// VerifiedEventType replaces payload.event_type on every republished
// envelope, marking it as a rewritten, already-verified notification
// rather than the original exists event.
const VerifiedEventType = "compute.instance.exists.verified.old"

// Channel is the narrow slice of amqp091.Channel the publisher needs,
// letting tests substitute a recording fake instead of a live broker.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing) error
}

// Publishing mirrors amqp091.Publishing's fields the publisher sets. A
// thin local type avoids every test file depending on the amqp091
// package just to construct assertions.
type Publishing struct {
	ContentType string
	Body        []byte
}

// AMQPChannel adapts an *amqp091.Channel to the Channel interface.
type AMQPChannel struct {
	Ch *amqp.Channel
}

// PublishWithContext implements Channel.
func (a AMQPChannel) PublishWithContext(
	ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing,
) error {
	return a.Ch.PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, amqp.Publishing{
		ContentType: msg.ContentType,
		Body:        msg.Body,
	})
}

// Config is the publisher's tunable surface.
type Config struct {
	Exchange string
	// RoutingKeys is where verified envelopes are republished. Empty
	// means "use the original envelope's own routing key".
	RoutingKeys []string
}

// Service rewrites and republishes verified InstanceExists envelopes. It
// implements verifier.Publisher.
type Service struct {
	store store.Store
	pool  ChannelAcquirer
	cfg   Config
}

// New builds a Service. pool is typically a *ChannelPool sized to the
// verifier's concurrency; PublishVerified acquires a channel from it per
// call and releases it afterward rather than holding one open.
func New(st store.Store, pool ChannelAcquirer, cfg Config) *Service {
	return &Service{store: st, pool: pool, cfg: cfg}
}

// PublishVerified loads exist's original envelope, rewrites its
// event_type and message_id, and republishes it to every configured
// routing key (or the envelope's own routing key, if none are
// configured).
func (s *Service) PublishVerified(ctx context.Context, exist store.InstanceExists) error {
	raw, err := s.store.GetRawData(ctx, exist.RawID)
	if err != nil {
		return errors.Wrapf(err, "loading raw_data %d for exists %d", exist.RawID, exist.ID)
	}

	var envelope [2]json.RawMessage
	if err := json.Unmarshal([]byte(raw.JSON), &envelope); err != nil {
		return errors.Wrapf(err, "decoding envelope for raw_data %d", raw.ID)
	}

	var routingKey string
	if err := json.Unmarshal(envelope[0], &routingKey); err != nil {
		return errors.Wrap(err, "decoding envelope routing key")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(envelope[1], &payload); err != nil {
		return errors.Wrap(err, "decoding envelope payload")
	}

	payload["original_message_id"] = payload["message_id"]
	payload["message_id"] = uuid.New().String()
	payload["event_type"] = VerifiedEventType

	rewritten, err := json.Marshal([2]interface{}{routingKey, payload})
	if err != nil {
		return errors.Wrap(err, "encoding rewritten envelope")
	}

	keys := s.cfg.RoutingKeys
	if len(keys) == 0 {
		keys = []string{routingKey}
	}

	channel, err := s.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring publish channel")
	}
	defer s.pool.Release(channel)

	for _, key := range keys {
		err := channel.PublishWithContext(ctx, s.cfg.Exchange, key, false, false, Publishing{
			ContentType: "application/json",
			Body:        rewritten,
		})
		if err != nil {
			return errors.Wrapf(err, "publishing to %s/%s", s.cfg.Exchange, key)
		}
	}
	return nil
}
