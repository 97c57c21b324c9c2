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
	"encoding/json"
	"testing"

	"github.com/huangshunping/stacktach/internal/store"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange   string
	routingKey string
	body       []byte
	calls      int
}

func (c *recordingChannel) PublishWithContext(
	ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing,
) error {
	c.exchange = exchange
	c.routingKey = routingKey
	c.body = msg.Body
	c.calls++
	return nil
}

// singleChannelPool hands the same Channel back on every Acquire, in
// place of a real ChannelPool backed by a broker connection.
type singleChannelPool struct {
	ch       Channel
	acquired int
	released int
}

func (p *singleChannelPool) Acquire(ctx context.Context) (Channel, error) {
	p.acquired++
	return p.ch, nil
}

func (p *singleChannelPool) Release(Channel) {
	p.released++
}

func TestPublishVerifiedRewritesEnvelope(t *testing.T) {
	raw := store.RawData{
		ID: 42,
		JSON: mustMarshal(t, [2]interface{}{
			"compute.instance.exists",
			map[string]interface{}{
				"message_id":  "orig-msg-1",
				"event_type":  "compute.instance.exists",
				"payload":     map[string]interface{}{"instance_id": "instance-1"},
			},
		}),
	}

	ch := &recordingChannel{}
	pool := &singleChannelPool{ch: ch}
	svc := &Service{
		store: rawOnlyStore{raw: raw},
		pool:  pool,
		cfg:   Config{Exchange: "stacktach", RoutingKeys: []string{"monitor.info"}},
	}

	err := svc.PublishVerified(context.Background(), store.InstanceExists{ID: 1, RawID: 42})
	require.NoError(t, err)
	require.Equal(t, 1, ch.calls)
	require.Equal(t, "stacktach", ch.exchange)
	require.Equal(t, "monitor.info", ch.routingKey)
	require.Equal(t, 1, pool.acquired)
	require.Equal(t, 1, pool.released)

	var envelope [2]json.RawMessage
	require.NoError(t, json.Unmarshal(ch.body, &envelope))
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(envelope[1], &payload))

	require.Equal(t, VerifiedEventType, payload["event_type"])
	require.Equal(t, "orig-msg-1", payload["original_message_id"])
	require.NotEqual(t, "orig-msg-1", payload["message_id"])
	require.NotEmpty(t, payload["message_id"])
}

func TestPublishVerifiedDefaultsToOriginalRoutingKey(t *testing.T) {
	raw := store.RawData{
		ID: 7,
		JSON: mustMarshal(t, [2]interface{}{
			"monitor.info",
			map[string]interface{}{"message_id": "m1"},
		}),
	}

	ch := &recordingChannel{}
	svc := &Service{store: rawOnlyStore{raw: raw}, pool: &singleChannelPool{ch: ch}, cfg: Config{Exchange: "stacktach"}}

	require.NoError(t, svc.PublishVerified(context.Background(), store.InstanceExists{RawID: 7}))
	require.Equal(t, "monitor.info", ch.routingKey)
}

func mustMarshal(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// rawOnlyStore implements only the store.Store surface PublishVerified
// reaches: GetRawData. Embedding store.Store as a nil interface would
// panic on any other call, which is exactly the point -- the test fails
// loudly if PublishVerified starts touching more of the store.
type rawOnlyStore struct {
	store.Store
	raw store.RawData
}

func (r rawOnlyStore) GetRawData(ctx context.Context, id int64) (store.RawData, error) {
	return r.raw, nil
}
