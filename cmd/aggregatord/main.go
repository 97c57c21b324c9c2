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

// Command aggregatord drives the Event Aggregator subsystem. It does not
// itself consume a message bus; this binary wires a minimal stdin-line
// Source so the aggregator core can run standalone, e.g. for
// replay-from-file testing against a real database.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/huangshunping/stacktach/internal/aggregator"
	"github.com/huangshunping/stacktach/internal/envelope"
	"github.com/huangshunping/stacktach/internal/stopper"
	"github.com/huangshunping/stacktach/internal/store/pg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// stdinSource implements aggregator.Source by reading
// "routing_key\tenvelope_json" lines from a bufio.Scanner, standing in
// for the out-of-scope message-bus consumer. Every line is stamped with
// the same deployment, taken from the --deployment flag.
type stdinSource struct {
	scanner    *bufio.Scanner
	deployment string
}

func (s *stdinSource) Next(ctx context.Context) (deployment, routingKey, envelopeJSON string, err error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			log.WithField("line", line).Warn("skipping malformed aggregatord input line")
			continue
		}
		return s.deployment, parts[0], parts[1], nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", "", "", err
	}
	return "", "", "", errors.New("input exhausted")
}

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("aggregatord exited with an error")
		os.Exit(1)
	}
	os.Exit(0)
}

func run() error {
	var connString, deployment string
	pflag.StringVar(&connString, "conn-string", "", "Postgres connection string")
	pflag.StringVar(&deployment, "deployment", "default", "deployment name stamped on every raw_data row")
	pflag.Parse()
	if connString == "" {
		return fmt.Errorf("conn-string must be set")
	}

	ctx := stopper.WithSignals(context.Background())

	st, err := pg.Open(ctx, connString)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := aggregator.NewService(st, envelope.NewParser())
	src := &stdinSource{scanner: bufio.NewScanner(os.Stdin), deployment: deployment}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dep, routingKey, envJSON, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if err := svc.ProcessRaw(ctx, dep, routingKey, envJSON); err != nil {
			log.WithError(err).WithField("routing_key", routingKey).Error("processing raw envelope")
		}
	}
}
