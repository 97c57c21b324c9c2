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

// Command verifier runs the Exists Verifier daemon: it periodically
// claims settled, pending InstanceExists rows and checks them against the
// Usage/Delete/Reconcile tables, republishing verified ones.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/huangshunping/stacktach/internal/config"
	"github.com/huangshunping/stacktach/internal/publisher"
	"github.com/huangshunping/stacktach/internal/stopper"
	"github.com/huangshunping/stacktach/internal/store/pg"
	"github.com/huangshunping/stacktach/internal/verifier"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("verifier exited with an error")
		os.Exit(1)
	}
	os.Exit(0)
}

func run() error {
	var cfg config.VerifierConfig
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()
	if err := cfg.Preflight(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := stopper.WithSignals(context.Background())

	st, err := pg.Open(ctx, cfg.ConnString)
	if err != nil {
		return err
	}
	defer st.Close()

	var pub verifier.Publisher
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		declareCh, err := conn.Channel()
		if err != nil {
			return err
		}
		if err := publisher.DeclareExchange(declareCh, cfg.Exchange); err != nil {
			return err
		}
		if err := declareCh.Close(); err != nil {
			return err
		}

		pool, err := publisher.NewChannelPool(conn, cfg.PoolSize)
		if err != nil {
			return err
		}
		defer pool.Close()

		pub = publisher.New(st, pool, publisher.Config{
			Exchange:    cfg.Exchange,
			RoutingKeys: cfg.RoutingKeys,
		})
	} else {
		log.Warn("amqp-url unset: verified exists will not be republished")
	}

	settle, err := cfg.SettleDuration()
	if err != nil {
		return err
	}

	runCfg := verifier.Config{
		TickTime: time.Duration(cfg.TickTime) * time.Second,
		Settle:   settle,
		PoolSize: cfg.PoolSize,
		RunOnce:  cfg.RunOnce,
	}

	return verifier.Run(ctx, st, pub, runCfg)
}
