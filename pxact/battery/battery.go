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

// Package battery maps battery voltage samples onto the Battery Service
// characteristics.
package battery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Power state bit fields (org.bluetooth.characteristic.battery_power_state).
const (
	POWER_STATE_PRESENT             uint8 = 0x03
	POWER_STATE_DISCHARGING_NOT_SUP uint8 = 0x01 << 2
	POWER_STATE_CHARGING_NOT_SUP    uint8 = 0x01 << 4
	POWER_STATE_LEVEL_GOOD          uint8 = 0x02 << 6
	POWER_STATE_LEVEL_CRITICAL      uint8 = 0x03 << 6
)

const POWER_STATE_DFLT = POWER_STATE_PRESENT |
	POWER_STATE_DISCHARGING_NOT_SUP |
	POWER_STATE_CHARGING_NOT_SUP |
	POWER_STATE_LEVEL_GOOD

const CRITICAL_PCT_DFLT = 10

// Length of the Battery Level State value; level and power state followed
// by reserved padding.
const LEVEL_STATE_LEN = 5

type ServiceRequired uint8

const (
	SERVICE_REQUIRED_NO ServiceRequired = iota
	SERVICE_REQUIRED_YES
	SERVICE_REQUIRED_UNKNOWN
)

var ServiceRequiredStringMap = map[ServiceRequired]string{
	SERVICE_REQUIRED_NO:      "no",
	SERVICE_REQUIRED_YES:     "yes",
	SERVICE_REQUIRED_UNKNOWN: "unknown",
}

func ServiceRequiredToString(s ServiceRequired) string {
	str := ServiceRequiredStringMap[s]
	if str == "" {
		return "???"
	}

	return str
}

func (s ServiceRequired) String() string {
	return ServiceRequiredToString(s)
}

func (s ServiceRequired) MarshalJSON() ([]byte, error) {
	return json.Marshal(ServiceRequiredToString(s))
}

// Sampler reads the battery voltage in millivolts.
type Sampler interface {
	Sample() (uint16, error)
}

// Store is the subset of the attribute database the monitor writes to.
type Store interface {
	Value(handle uint16) ([]byte, error)
	SetValue(handle uint16, data []byte) error
}

type Notifier interface {
	OnValueChanged(handle uint16) error
}

// Handles identifies the value attributes the monitor maintains.  A zero
// handle is skipped.
type Handles struct {
	Level           uint16
	PowerState      uint16
	ServiceRequired uint16
	LevelState      uint16
}

type Record struct {
	Millivolts      uint16          `json:"mv" structs:"mv"`
	LevelPercent    uint8           `json:"level" structs:"level"`
	PowerState      uint8           `json:"power_state" structs:"power_state"`
	ServiceRequired ServiceRequired `json:"service_required" structs:"service_required"`
}

type Config struct {
	Cal             CalTable
	CriticalPercent uint8
}

func NewConfig() Config {
	return Config{
		Cal:             DefaultCalTable(),
		CriticalPercent: CRITICAL_PCT_DFLT,
	}
}

type Monitor struct {
	sampler  Sampler
	store    Store
	notifier Notifier
	handles  Handles
	cfg      Config
	rec      Record
}

func NewMonitor(sampler Sampler, store Store, notifier Notifier,
	handles Handles, cfg Config) (*Monitor, error) {

	if err := cfg.Cal.Validate(); err != nil {
		return nil, err
	}
	if cfg.CriticalPercent > 100 {
		return nil, fmt.Errorf("invalid critical level %d%%",
			cfg.CriticalPercent)
	}

	return &Monitor{
		sampler:  sampler,
		store:    store,
		notifier: notifier,
		handles:  handles,
		cfg:      cfg,
		rec: Record{
			LevelPercent:    100,
			PowerState:      POWER_STATE_DFLT,
			ServiceRequired: SERVICE_REQUIRED_NO,
		},
	}, nil
}

func (m *Monitor) Record() Record {
	return m.rec
}

func (m *Monitor) derive(mv uint16) Record {
	rec := Record{
		Millivolts:      mv,
		LevelPercent:    m.cfg.Cal.Percent(mv),
		PowerState:      POWER_STATE_DFLT,
		ServiceRequired: SERVICE_REQUIRED_NO,
	}

	if rec.LevelPercent < m.cfg.CriticalPercent {
		rec.PowerState = POWER_STATE_PRESENT |
			POWER_STATE_DISCHARGING_NOT_SUP |
			POWER_STATE_CHARGING_NOT_SUP |
			POWER_STATE_LEVEL_CRITICAL
		rec.ServiceRequired = SERVICE_REQUIRED_YES
	}

	return rec
}

// Tick takes one sample and publishes any resulting change.  A sampling
// failure skips the tick and leaves everything untouched.
func (m *Monitor) Tick() error {
	mv, err := m.sampler.Sample()
	if err != nil {
		log.Warnf("battery sample failed; skipping tick: %s", err.Error())
		return errors.Wrap(err, "battery sample")
	}

	rec := m.derive(mv)

	levelState := make([]byte, LEVEL_STATE_LEN)
	levelState[0] = rec.LevelPercent
	levelState[1] = rec.PowerState

	updates := []struct {
		handle uint16
		val    []byte
	}{
		{m.handles.Level, []byte{rec.LevelPercent}},
		{m.handles.PowerState, []byte{rec.PowerState}},
		{m.handles.ServiceRequired, []byte{byte(rec.ServiceRequired)}},
		{m.handles.LevelState, levelState},
	}

	if rec.LevelPercent != m.rec.LevelPercent {
		log.Infof("battery level %d%% --> %d%% (%dmV)",
			m.rec.LevelPercent, rec.LevelPercent, mv)
	}
	m.rec = rec

	for _, u := range updates {
		if u.handle == 0 {
			continue
		}

		cur, err := m.store.Value(u.handle)
		if err != nil {
			return err
		}
		if bytes.Equal(cur, u.val) {
			continue
		}

		if err := m.store.SetValue(u.handle, u.val); err != nil {
			return err
		}
		if err := m.notifier.OnValueChanged(u.handle); err != nil {
			log.Debugf("battery change not delivered: %s", err.Error())
		}
	}

	return nil
}
