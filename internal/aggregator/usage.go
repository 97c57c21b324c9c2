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

package aggregator

import (
	"context"

	"github.com/huangshunping/stacktach/internal/envelope"
	"github.com/huangshunping/stacktach/internal/store"
	"github.com/huangshunping/stacktach/internal/tsdecimal"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// usageAction is one per-event handler in the dispatch table below.
type usageAction func(ctx context.Context, tx store.Store, raw store.RawData, p envelope.Payload) error

var usageDispatch = map[string]usageAction{
	"compute.instance.create.start":        processUsageForNewLaunch,
	"compute.instance.rebuild.start":        processUsageForNewLaunch,
	"compute.instance.resize.prep.start":    processUsageForNewLaunch,
	"compute.instance.resize.revert.start":  processUsageForNewLaunch,
	"compute.instance.create.end":           processUsageForUpdates,
	"compute.instance.resize.prep.end":      processUsageForUpdates,
	"compute.instance.resize.revert.end":    processUsageForUpdates,
	"compute.instance.delete.end":           processDelete,
	"compute.instance.exists":               processExists,
}

// aggregateUsage dispatches raw/fields to the usage/delete/exists handler
// registered for fields.Event, if any. Events with no registered handler
// are a silent no-op -- only these nine event names touch billing state.
func aggregateUsage(ctx context.Context, tx store.Store, raw store.RawData, fields envelope.Fields) error {
	if fields.InstanceID == "" {
		return nil
	}
	action, ok := usageDispatch[fields.Event]
	if !ok {
		return nil
	}
	return action(ctx, tx, raw, fields.Payload)
}

// processUsageForNewLaunch fills identity fields on the InstanceUsage row
// for (instance_id, request_id), setting launched_at only if it is not
// already set -- idempotent across retried launch notifications.
func processUsageForNewLaunch(ctx context.Context, tx store.Store, raw store.RawData, p envelope.Payload) error {
	usage, _, err := tx.GetOrCreateInstanceUsage(ctx, raw.InstanceID, raw.RequestID)
	if err != nil {
		return errors.Wrap(err, "get-or-create instance usage")
	}

	applyUsageIdentity(&usage, p)
	if usage.LaunchedAt.IsZero() {
		usage.LaunchedAt = p.LaunchedAt
	}

	return errors.Wrap(tx.SaveInstanceUsage(ctx, usage), "saving instance usage")
}

// processUsageForUpdates overwrites identity fields and launched_at
// unconditionally, skipping entirely when the event reports an error.
func processUsageForUpdates(ctx context.Context, tx store.Store, raw store.RawData, p envelope.Payload) error {
	if p.Message == "Error" {
		return nil
	}

	usage, _, err := tx.GetOrCreateInstanceUsage(ctx, raw.InstanceID, raw.RequestID)
	if err != nil {
		return errors.Wrap(err, "get-or-create instance usage")
	}

	applyUsageIdentity(&usage, p)
	usage.LaunchedAt = p.LaunchedAt

	return errors.Wrap(tx.SaveInstanceUsage(ctx, usage), "saving instance usage")
}

func applyUsageIdentity(usage *store.InstanceUsage, p envelope.Payload) {
	usage.InstanceTypeID = p.InstanceTypeID
	usage.Tenant = p.TenantID
	usage.OSArchitecture = p.OSArchitecture
	usage.OSVersion = p.OSVersion
	usage.OSDistro = p.OSDistro
	usage.RaxOptions = p.RaxOptions
}

// processDelete get-or-creates the InstanceDelete row keyed by
// (instance_id, deleted_at), filling launched_at if the event carried it.
func processDelete(ctx context.Context, tx store.Store, raw store.RawData, p envelope.Payload) error {
	del, _, err := tx.GetOrCreateInstanceDelete(ctx, raw.InstanceID, p.DeletedAt)
	if err != nil {
		return errors.Wrap(err, "get-or-create instance delete")
	}

	if !p.LaunchedAt.IsZero() {
		del.LaunchedAt = p.LaunchedAt
	}

	return errors.Wrap(tx.SaveInstanceDelete(ctx, del), "saving instance delete")
}

// processExists creates the PENDING InstanceExists row that the verifier
// will later pick up, matching it against any Usage/Delete rows in the
// same second-precision launch window.
func processExists(ctx context.Context, tx store.Store, raw store.RawData, p envelope.Payload) error {
	if p.LaunchedAt.IsZero() {
		log.Warnf("Ignoring exists without launched_at. RawData(%d)", raw.ID)
		return nil
	}

	start, end := tsdecimal.SecondWindow(p.LaunchedAt)
	window := store.RangeFilter{Start: start, End: end}

	var usageID int64
	usages, err := tx.FindInstanceUsageByLaunch(ctx, raw.InstanceID, window)
	if err != nil {
		return errors.Wrap(err, "finding instance usage for exists")
	}
	if len(usages) > 0 {
		usageID = usages[0].ID
	}

	var deleteID int64
	if !p.DeletedAt.IsZero() {
		deletes, err := tx.FindInstanceDeleteByLaunch(ctx, raw.InstanceID, window, nil)
		if err != nil {
			return errors.Wrap(err, "finding instance delete for exists")
		}
		if len(deletes) > 0 {
			deleteID = deletes[0].ID
		}
	}

	exist := store.InstanceExists{
		MessageID:            p.MessageID,
		InstanceID:           raw.InstanceID,
		LaunchedAt:           p.LaunchedAt,
		DeletedAt:            p.DeletedAt,
		AuditPeriodBeginning: p.AuditPeriodBeginning,
		AuditPeriodEnding:    p.AuditPeriodEnding,
		InstanceTypeID:       p.InstanceTypeID,
		UsageID:              usageID,
		DeleteID:             deleteID,
		RawID:                raw.ID,
		Tenant:               p.TenantID,
		OSArchitecture:       p.OSArchitecture,
		OSVersion:            p.OSVersion,
		OSDistro:             p.OSDistro,
		RaxOptions:           p.RaxOptions,
		Status:               store.ExistsPending,
	}

	_, err = tx.CreateInstanceExists(ctx, exist)
	return errors.Wrap(err, "creating instance exists")
}
