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

package publisher

import (
	"context"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeclareExchange declares the durable topic exchange verified exists
// notifications are published to. Declaring it durable means the
// exchange survives a broker restart; routing by topic lets subscribers
// bind on a prefix of the original envelope's routing key.
func DeclareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// ChannelAcquirer hands out a Channel bound from a fixed pool and
// reclaims it when the caller is done, so that Service never needs more
// than a bounded number of AMQP channels open at once, and never shares
// one channel across concurrent publishes.
type ChannelAcquirer interface {
	Acquire(ctx context.Context) (Channel, error)
	Release(Channel)
}

// ChannelPool hands out amqp091 channels over one long-lived connection,
// bounded to a fixed concurrency: Acquire blocks until a channel is
// returned rather than opening an unbounded number of them.
type ChannelPool struct {
	conn *amqp.Connection
	free chan *amqp.Channel
}

// NewChannelPool opens size channels on conn up front and returns a pool
// that hands them out in round-robin fashion as callers Acquire/Release.
func NewChannelPool(conn *amqp.Connection, size int) (*ChannelPool, error) {
	p := &ChannelPool{conn: conn, free: make(chan *amqp.Channel, size)}
	for i := 0; i < size; i++ {
		ch, err := conn.Channel()
		if err != nil {
			return nil, errors.Wrap(err, "opening amqp channel")
		}
		p.free <- ch
	}
	return p, nil
}

// Acquire blocks until a channel is available or ctx is canceled. It
// implements ChannelAcquirer.
func (p *ChannelPool) Acquire(ctx context.Context) (Channel, error) {
	select {
	case ch := <-p.free:
		return AMQPChannel{Ch: ch}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns ch to the pool for reuse. It implements ChannelAcquirer.
func (p *ChannelPool) Release(ch Channel) {
	if ac, ok := ch.(AMQPChannel); ok {
		p.free <- ac.Ch
	}
}

// Close drains and closes every pooled channel. Callers must ensure no
// Acquire is in flight.
func (p *ChannelPool) Close() error {
	close(p.free)
	var firstErr error
	for ch := range p.free {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
