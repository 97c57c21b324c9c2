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

// Package telemetry wires the module's prometheus metrics, following the
// same promauto vector shape every pipeline stage already uses.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is the shared histogram bucket set for every duration
// metric in the module, so latency dashboards can compare across stages.
var LatencyBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60}

// eventLabels tags aggregator metrics by the routing key that produced
// them.
var eventLabels = []string{"routing_key"}

var (
	// RawProcessed counts ProcessRaw calls whose envelope parsed and was
	// recognized (dropped and ignored envelopes are not counted), labeled
	// by routing key.
	RawProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_raw_processed_total",
		Help: "the number of raw envelopes processed",
	}, eventLabels)
	// RawProcessErrors counts ProcessRaw failures, labeled by routing key.
	RawProcessErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_raw_process_errors_total",
		Help: "the number of raw envelopes that failed to process",
	}, eventLabels)
	// RawProcessDuration times ProcessRaw, labeled by routing key.
	RawProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggregator_raw_process_duration_seconds",
		Help:    "the time taken to process one raw envelope",
		Buckets: LatencyBuckets,
	}, eventLabels)
)

// verifyLabels tags verifier metrics by terminal status.
var verifyLabels = []string{"status"}

var (
	// VerifyOutcomes counts completed verifications by terminal status
	// (VERIFIED, RECONCILED, FAILED).
	VerifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_outcomes_total",
		Help: "the number of completed verifications by terminal status",
	}, verifyLabels)
	// VerifyDuration times a single Verify call.
	VerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verifier_verify_duration_seconds",
		Help:    "the time taken to verify one exists row",
		Buckets: LatencyBuckets,
	})
	// PublishErrors counts PublishVerified failures.
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_publish_errors_total",
		Help: "the number of times republishing a verified exists failed",
	})
)
