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

// Package config binds the verifier CLI's flags and validates them once
// all flags have been parsed.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// VerifierConfig is the user-visible configuration for running the
// Exists Verifier daemon.
type VerifierConfig struct {
	ConnString string

	TickTime    int
	SettleTime  int
	SettleUnits string
	PoolSize    int
	RunOnce     bool

	AMQPURL      string
	Exchange     string
	RoutingKeys  []string
}

// Bind registers flags on flags.
func (c *VerifierConfig) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.ConnString, "conn-string", "", "Postgres connection string")

	flags.IntVar(&c.TickTime, "tick-time", 30, "seconds to sleep between scans")
	flags.IntVar(&c.SettleTime, "settle-time", 10, "how long to wait past audit_period_ending before considering")
	flags.StringVar(&c.SettleUnits, "settle-units", "minutes", `time unit for --settle-time: "seconds", "minutes", or "hours"`)
	flags.IntVar(&c.PoolSize, "pool-size", 10, "verify worker count")
	flags.BoolVar(&c.RunOnce, "run-once", false, "process the current pending batch and exit")

	flags.StringVar(&c.AMQPURL, "amqp-url", "", "AMQP broker URL; publishing is disabled if unset")
	flags.StringVar(&c.Exchange, "exchange", "stacktach", "durable topic exchange to publish verified exists to")
	flags.StringSliceVar(&c.RoutingKeys, "routing-key", nil, "routing keys to republish verified exists to (default: original envelope routing key)")
}

// Preflight validates flag values that can't be checked at parse time.
func (c *VerifierConfig) Preflight() error {
	if c.ConnString == "" {
		return errors.New("conn-string must be set")
	}
	if c.TickTime <= 0 {
		return errors.New("tick-time must be positive")
	}
	if c.SettleTime < 0 {
		return errors.New("settle-time must not be negative")
	}
	if _, err := c.SettleDuration(); err != nil {
		return err
	}
	if c.PoolSize <= 0 {
		return errors.New("pool-size must be positive")
	}
	return nil
}

// SettleDuration converts (SettleTime, SettleUnits) into a time.Duration,
// the Go analogue of datetime.timedelta(**{settle_units: settle_time}).
func (c *VerifierConfig) SettleDuration() (time.Duration, error) {
	switch c.SettleUnits {
	case "seconds":
		return time.Duration(c.SettleTime) * time.Second, nil
	case "minutes":
		return time.Duration(c.SettleTime) * time.Minute, nil
	case "hours":
		return time.Duration(c.SettleTime) * time.Hour, nil
	default:
		return 0, errors.Errorf("settle-units must be one of seconds, minutes, hours; got %q", c.SettleUnits)
	}
}
