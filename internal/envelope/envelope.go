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

// Package envelope parses incoming notification envelopes into the
// canonical field set the aggregator persists as a RawData row. It holds
// no storage dependency of its own.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/huangshunping/stacktach/internal/tsdecimal"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// timestamp layouts accepted in payload.timestamp / payload._context_timestamp.
// Both forms are tried in order; the first that parses wins.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
}

// Fields is the canonical set extracted from one notification envelope,
// ready to become a store.RawData row plus the payload data the usage and
// exists aggregators need.
type Fields struct {
	Deployment string
	When       decimal.Decimal
	Host       string
	Service    string
	RoutingKey string
	Event      string
	JSON       string
	InstanceID string
	RequestID  string
	State      string
	OldTask    string

	Payload Payload
}

// Payload holds the subset of payload keys consumed beyond RawData's
// canonical fields -- the usage/exists/delete aggregators read these.
type Payload struct {
	MessageID            string
	InstanceTypeID       string
	NewInstanceTypeID    string
	TenantID             string
	LaunchedAt           decimal.Decimal
	DeletedAt            decimal.Decimal
	AuditPeriodBeginning decimal.Decimal
	AuditPeriodEnding    decimal.Decimal
	Message              string
	OSArchitecture       string
	OSVersion            string
	OSDistro             string
	RaxOptions           string
}

// raw is the loosely-typed JSON shape of one envelope: [routing_key, payload].
type raw struct {
	RoutingKey string
	Payload    map[string]interface{}
}

func decodeEnvelope(jsonStr string) (raw, error) {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &tuple); err != nil {
		return raw{}, errors.Wrap(err, "decoding envelope tuple")
	}

	var routingKey string
	if err := json.Unmarshal(tuple[0], &routingKey); err != nil {
		return raw{}, errors.Wrap(err, "decoding routing key")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(tuple[1], &payload); err != nil {
		return raw{}, errors.Wrap(err, "decoding payload")
	}

	return raw{RoutingKey: routingKey, Payload: payload}, nil
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func parseWhen(v string) (decimal.Decimal, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return tsdecimal.FromTime(t), nil
		} else {
			lastErr = err
		}
	}
	return decimal.Decimal{}, errors.Wrap(lastErr, "parsing timestamp")
}

// parseOptionalWhen returns the zero Decimal (not an error) when key is
// absent or empty -- several payload timestamp fields are optional.
func parseOptionalWhen(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v := str(m, key)
	if v == "" {
		return decimal.Decimal{}, nil
	}
	return parseWhen(v)
}
