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

// Package tsdecimal converts naive-UTC timestamps to and from the
// fixed-precision decimal encoding used as the primary ordering key
// across the store: a numeral of the form YYYYMMDDHHMMSS.ffffff.
package tsdecimal

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const layout = "20060102150405.000000"

// one is added to a launched_at decimal to build an inclusive
// second-precision window. The decimal's fractional part is
// microseconds, so "+1" is exactly one second -- this only holds
// because the encoding's unit is seconds; it is not a general-purpose
// duration and must not be parameterized.
var one = decimal.NewFromInt(1)

// FromTime converts a naive-UTC time.Time into the decimal primary-key
// encoding. No timezone conversion is performed; callers are expected
// to have already normalized to UTC.
func FromTime(t time.Time) decimal.Decimal {
	d, err := decimal.NewFromString(t.Format(layout))
	if err != nil {
		// Format() with a fixed layout cannot produce a string that
		// fails to parse back as a decimal.
		panic(errors.Wrap(err, "tsdecimal: unreachable"))
	}
	return d
}

// Now is a convenience wrapper around FromTime(time.Now().UTC()).
func Now() decimal.Decimal {
	return FromTime(time.Now().UTC())
}

// ToTime is the exact inverse of FromTime for any value it produced.
func ToTime(d decimal.Decimal) (time.Time, error) {
	t, err := time.Parse(layout, d.StringFixed(6))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "tsdecimal: invalid decimal %s", d.String())
	}
	return t, nil
}

// SecondWindow returns the bounds of the [start, start+1] second window,
// inclusive at both ends as store.RangeFilter applies it, used to match
// launched_at against a ".000000"-truncated instant.
func SecondWindow(launchedAt decimal.Decimal) (start, end decimal.Decimal) {
	return launchedAt, launchedAt.Add(one)
}

// EqualSecond compares two decimal timestamps, tolerating sub-second
// drift: it truncates both operands to whole seconds before comparing.
// Either input may be the zero value; EqualSecond returns false unless
// both are set (mirrors _verify_date_field's "if d1 and d2" guard).
func EqualSecond(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	if a.Equal(b) {
		return true
	}
	return a.Truncate(0).Equal(b.Truncate(0))
}
