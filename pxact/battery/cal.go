/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package battery

import (
	"fmt"
)

type CalPoint struct {
	Millivolts uint16 `json:"mv"`
	Percent    uint8  `json:"pct"`
}

// CalTable maps battery voltage to charge.  Points are ordered by strictly
// increasing voltage; charge never decreases.
type CalTable []CalPoint

// Discharge curve of a CR2032 coin cell under a light load.
func DefaultCalTable() CalTable {
	return CalTable{
		{2000, 0},
		{2400, 10},
		{2600, 40},
		{2800, 70},
		{2900, 90},
		{3000, 100},
	}
}

func (t CalTable) Validate() error {
	if len(t) < 2 {
		return fmt.Errorf("calibration table needs at least two points")
	}

	for i, p := range t {
		if p.Percent > 100 {
			return fmt.Errorf("calibration point %d: percent %d > 100",
				i, p.Percent)
		}

		if i > 0 {
			prev := t[i-1]
			if p.Millivolts <= prev.Millivolts {
				return fmt.Errorf("calibration point %d: voltage not "+
					"increasing (%d <= %d)", i, p.Millivolts, prev.Millivolts)
			}
			if p.Percent < prev.Percent {
				return fmt.Errorf("calibration point %d: percent "+
					"decreasing (%d < %d)", i, p.Percent, prev.Percent)
			}
		}
	}

	return nil
}

// Percent interpolates linearly between the surrounding points.  Readings
// outside the table clamp to its ends.
func (t CalTable) Percent(mv uint16) uint8 {
	if mv <= t[0].Millivolts {
		return t[0].Percent
	}

	for i := 1; i < len(t); i++ {
		hi := t[i]
		if mv > hi.Millivolts {
			continue
		}

		lo := t[i-1]
		span := int(hi.Millivolts) - int(lo.Millivolts)
		rise := int(hi.Percent) - int(lo.Percent)
		off := int(mv) - int(lo.Millivolts)

		return uint8(int(lo.Percent) + rise*off/span)
	}

	return t[len(t)-1].Percent
}
