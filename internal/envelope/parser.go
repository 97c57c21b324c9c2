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

package envelope

import (
	"strings"

	"github.com/pkg/errors"
)

// HandlerFunc extracts the canonical Fields from one decoded envelope.
// ok is false when the routing key is recognized but the event carries
// nothing worth persisting; err is non-nil only for malformed input.
type HandlerFunc func(deployment string, routingKey string, jsonStr string, env raw) (Fields, bool, error)

// Parser dispatches on routing key, built once at construction. Unknown
// routing keys are silently ignored -- Parse returns (Fields{}, false, nil).
type Parser struct {
	handlers map[string]HandlerFunc
}

// NewParser builds a Parser with an empty override table. Parse sends
// monitor.info and every compute.instance.* routing key to one generic
// handler (they share the same field-extraction rule; only the
// usage/lifecycle aggregators differentiate further by event name).
func NewParser() *Parser {
	return &Parser{handlers: make(map[string]HandlerFunc)}
}

// Override installs fn for routingKey; it takes precedence over the
// generic extraction and over any handler installed earlier for the key.
// Exists for test setups that need to inject a handler for a routing key
// not covered by the default generic extraction.
func (p *Parser) Override(routingKey string, fn HandlerFunc) {
	p.handlers[routingKey] = fn
}

// Parse dispatches jsonStr (a JSON-encoded [routing_key, payload] tuple)
// to the handler registered for its routing key, falling back to the
// generic extraction rule for any key that is a recognized
// notification (monitor.info or compute.instance.*) and silently ignoring
// everything else.
func (p *Parser) Parse(deployment, jsonStr string) (Fields, bool, error) {
	env, err := decodeEnvelope(jsonStr)
	if err != nil {
		return Fields{}, false, errors.Wrap(err, "parsing envelope")
	}

	if fn, ok := p.handlers[env.RoutingKey]; ok {
		return fn(deployment, env.RoutingKey, jsonStr, env)
	}

	if !recognized(env.RoutingKey) {
		return Fields{}, false, nil
	}

	return genericHandler(deployment, env.RoutingKey, jsonStr, env)
}

func recognized(routingKey string) bool {
	return routingKey == "monitor.info" ||
		strings.HasPrefix(routingKey, "compute.instance.")
}

// genericHandler implements the canonical field extraction rule shared by
// every notification type: when/host/instance/request/state/old_task come
// from well-known payload keys, with `timestamp` preferred over
// `_context_timestamp` for `when`.
func genericHandler(deployment, routingKey, jsonStr string, env raw) (Fields, bool, error) {
	p := env.Payload

	whenStr := str(p, "timestamp")
	if whenStr == "" {
		whenStr = str(p, "_context_timestamp")
	}
	when, err := parseWhen(whenStr)
	if err != nil {
		return Fields{}, false, errors.Wrap(err, "parsing when")
	}

	service, host := splitPublisherID(str(p, "publisher_id"))

	eventName := str(p, "event_type")
	if eventName == "" {
		eventName = routingKey
	}

	requestID := str(p, "_context_request_id")

	inner, _ := p["payload"].(map[string]interface{})

	launchedAt, err := parseOptionalWhen(inner, "launched_at")
	if err != nil {
		return Fields{}, false, errors.Wrap(err, "parsing launched_at")
	}
	deletedAt, err := parseOptionalWhen(inner, "deleted_at")
	if err != nil {
		return Fields{}, false, errors.Wrap(err, "parsing deleted_at")
	}
	auditBeginning, err := parseOptionalWhen(inner, "audit_period_beginning")
	if err != nil {
		return Fields{}, false, errors.Wrap(err, "parsing audit_period_beginning")
	}
	auditEnding, err := parseOptionalWhen(inner, "audit_period_ending")
	if err != nil {
		return Fields{}, false, errors.Wrap(err, "parsing audit_period_ending")
	}

	instanceTypeID := str(inner, "instance_type_id")
	if v := str(inner, "new_instance_type_id"); v != "" {
		instanceTypeID = v
	}

	imageMeta, _ := inner["image_meta"].(map[string]interface{})
	osArch := firstNonEmpty(str(inner, "os_architecture"), str(imageMeta, "os_architecture"))
	osVersion := firstNonEmpty(str(inner, "os_version"), str(imageMeta, "os_version"))
	osDistro := firstNonEmpty(str(inner, "os_distro"), str(imageMeta, "os_distro"))

	fields := Fields{
		Deployment: deployment,
		When:       when,
		Host:       host,
		Service:    service,
		RoutingKey: routingKey,
		Event:      eventName,
		JSON:       jsonStr,
		InstanceID: str(inner, "instance_id"),
		RequestID:  requestID,
		State:      str(inner, "state"),
		OldTask:    str(inner, "old_task_state"),
		Payload: Payload{
			MessageID:            str(p, "message_id"),
			InstanceTypeID:       instanceTypeID,
			NewInstanceTypeID:    str(inner, "new_instance_type_id"),
			TenantID:             str(inner, "tenant_id"),
			LaunchedAt:           launchedAt,
			DeletedAt:            deletedAt,
			AuditPeriodBeginning: auditBeginning,
			AuditPeriodEnding:    auditEnding,
			Message:              str(inner, "message"),
			OSArchitecture:       osArch,
			OSVersion:            osVersion,
			OSDistro:             osDistro,
			RaxOptions:           str(inner, "rax_options"),
		},
	}
	return fields, true, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitPublisherID decomposes a "service.host[.more]" publisher_id into
// its service and host parts, splitting on the first dot. Both default
// to "api" when publisher_id is absent, matching the upstream
// monitor.info notifications that carry no publisher_id at all.
func splitPublisherID(publisherID string) (service, host string) {
	if publisherID == "" {
		return "api", "api"
	}
	idx := strings.IndexByte(publisherID, '.')
	if idx < 0 {
		return publisherID, publisherID
	}
	return publisherID[:idx], publisherID[idx+1:]
}
