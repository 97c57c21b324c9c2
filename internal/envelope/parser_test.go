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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMonitorInfo(t *testing.T) {
	jsonStr := `["monitor.info", {"timestamp": "2013-01-25 13:38:23.123000"}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "monitor.info", fields.RoutingKey)
	assert.Equal(t, "api", fields.Host)
	assert.Equal(t, jsonStr, fields.JSON)
}

func TestParsePrefersTimestampOverContext(t *testing.T) {
	jsonStr := `["monitor.info", {"timestamp": "2013-01-25 13:38:23.123000", "_context_timestamp": "2020-01-01 00:00:00.000000"}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20130125133823.123000", fields.When.StringFixed(6))
}

func TestParseISOTimestamp(t *testing.T) {
	jsonStr := `["monitor.info", {"_context_timestamp": "2013-01-25T13:38:23.123000"}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20130125133823.123000", fields.When.StringFixed(6))
}

func TestParseComputeInstanceCreateStart(t *testing.T) {
	jsonStr := `["compute.instance.create.start", {
		"timestamp": "2013-01-25 13:38:23.000000",
		"_context_request_id": "req-1",
		"publisher_id": "compute.node1",
		"payload": {
			"instance_id": "inst-1",
			"state": "building",
			"instance_type_id": "1",
			"tenant_id": "tenant-1",
			"rax_options": "opt",
			"os_architecture": "x64",
			"os_version": "7",
			"os_distro": "ubuntu"
		}
	}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inst-1", fields.InstanceID)
	assert.Equal(t, "req-1", fields.RequestID)
	assert.Equal(t, "building", fields.State)
	assert.Equal(t, "node1", fields.Host)
	assert.Equal(t, "compute", fields.Service)
	assert.Equal(t, "tenant-1", fields.Payload.TenantID)
	assert.Equal(t, "1", fields.Payload.InstanceTypeID)
	assert.Equal(t, "x64", fields.Payload.OSArchitecture)
}

func TestParseUnknownRoutingKeyIgnored(t *testing.T) {
	jsonStr := `["some.other.exchange.key", {"timestamp": "2013-01-25 13:38:23.000000"}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Fields{}, fields)
}

func TestParseImageMetaFallback(t *testing.T) {
	jsonStr := `["compute.instance.create.end", {
		"timestamp": "2013-01-25 13:38:23.000000",
		"payload": {
			"instance_id": "inst-1",
			"image_meta": {"os_architecture": "arm64", "os_version": "9", "os_distro": "debian"}
		}
	}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arm64", fields.Payload.OSArchitecture)
	assert.Equal(t, "9", fields.Payload.OSVersion)
	assert.Equal(t, "debian", fields.Payload.OSDistro)
}

func TestParseNewInstanceTypeIDOverridesInstanceTypeID(t *testing.T) {
	jsonStr := `["compute.instance.resize.prep.end", {
		"timestamp": "2013-01-25 13:38:23.000000",
		"payload": {
			"instance_id": "inst-1",
			"instance_type_id": "1",
			"new_instance_type_id": "2"
		}
	}]`

	p := NewParser()
	fields, ok, err := p.Parse("dep1", jsonStr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", fields.Payload.InstanceTypeID)
}
