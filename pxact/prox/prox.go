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

// Package prox implements the Proximity Profile reporter state machine:
// link loss versus graceful disconnect, immediate alerts and path loss.
package prox

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/JuulLabs-OSS/ble"
	log "github.com/sirupsen/logrus"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

type ProxState int32

const (
	PROX_STATE_DISCONNECTED ProxState = iota
	PROX_STATE_CONNECTED
	PROX_STATE_ALERT_MILD
	PROX_STATE_ALERT_HIGH
)

var ProxStateStringMap = map[ProxState]string{
	PROX_STATE_DISCONNECTED: "disconnected",
	PROX_STATE_CONNECTED:    "connected",
	PROX_STATE_ALERT_MILD:   "alert_mild",
	PROX_STATE_ALERT_HIGH:   "alert_high",
}

func ProxStateToString(s ProxState) string {
	str := ProxStateStringMap[s]
	if str == "" {
		return "???"
	}

	return str
}

func (s ProxState) String() string {
	return ProxStateToString(s)
}

func (s ProxState) Alerting() bool {
	return s == PROX_STATE_ALERT_MILD || s == PROX_STATE_ALERT_HIGH
}

func (s ProxState) MarshalJSON() ([]byte, error) {
	return json.Marshal(ProxStateToString(s))
}

// AlertPolicy controls what a repeated link loss does while a link-loss
// alert is already sounding.
type AlertPolicy int

const (
	// Only the transition into an alert state sounds.
	ALERT_POLICY_EDGE AlertPolicy = iota

	// Every link-loss event sounds, even while already alerting.
	ALERT_POLICY_EVERY
)

var AlertPolicyStringMap = map[AlertPolicy]string{
	ALERT_POLICY_EDGE:  "edge",
	ALERT_POLICY_EVERY: "every",
}

func AlertPolicyToString(p AlertPolicy) string {
	s := AlertPolicyStringMap[p]
	if s == "" {
		return "???"
	}

	return s
}

func AlertPolicyFromString(s string) (AlertPolicy, error) {
	for p, name := range AlertPolicyStringMap {
		if s == name {
			return p, nil
		}
	}

	return AlertPolicy(0), fmt.Errorf("Invalid AlertPolicy string: %s", s)
}

func (p AlertPolicy) String() string {
	return AlertPolicyToString(p)
}

func (p AlertPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(AlertPolicyToString(p))
}

func (p *AlertPolicy) UnmarshalJSON(data []byte) error {
	var err error

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*p, err = AlertPolicyFromString(s)
	return err
}

// Actuator drives the buzzer and LED.  Both calls return immediately;
// completion of a sounding alert is reported back through Fsm.AlertDone.
type Actuator interface {
	SoundAlert(level BleAlertLevel)
	StopAlert()
}

// Session describes the current connection.
type Session struct {
	ConnHandle     uint16
	LinkLossLevel  BleAlertLevel
	ImmediateLevel BleAlertLevel
	LastRssi       int8
	RssiValid      bool
}

type Config struct {
	Policy        AlertPolicy
	LinkLossLevel BleAlertLevel
	TxPower       int8
}

func NewConfig() Config {
	return Config{
		Policy:        ALERT_POLICY_EDGE,
		LinkLossLevel: BLE_ALERT_LEVEL_MILD,
		TxPower:       4,
	}
}

// Fsm is driven exclusively from the server's event loop.  Only State may
// be called from other goroutines.
type Fsm struct {
	state int32

	act           Actuator
	policy        AlertPolicy
	linkLossLevel BleAlertLevel
	txPower       int8

	// nil while disconnected.
	sess *Session
}

func NewFsm(act Actuator, cfg Config) *Fsm {
	return &Fsm{
		state:         int32(PROX_STATE_DISCONNECTED),
		act:           act,
		policy:        cfg.Policy,
		linkLossLevel: cfg.LinkLossLevel,
		txPower:       cfg.TxPower,
	}
}

func (f *Fsm) State() ProxState {
	return ProxState(atomic.LoadInt32(&f.state))
}

func (f *Fsm) setState(s ProxState) {
	old := ProxState(atomic.SwapInt32(&f.state, int32(s)))
	if old != s {
		log.Infof("proximity state change: %s --> %s", old, s)
	}
}

func (f *Fsm) LinkLossLevel() BleAlertLevel {
	return f.linkLossLevel
}

// Session returns a copy of the current session, or nil if disconnected.
func (f *Fsm) Session() *Session {
	if f.sess == nil {
		return nil
	}

	s := *f.sess
	return &s
}

func alertState(level BleAlertLevel) ProxState {
	if level == BLE_ALERT_LEVEL_HIGH {
		return PROX_STATE_ALERT_HIGH
	}
	return PROX_STATE_ALERT_MILD
}

// ParseAlertLevel validates the body of an Alert Level write.
func ParseAlertLevel(handle uint16, data []byte) (BleAlertLevel, error) {
	if len(data) != 1 {
		return 0, pxutil.NewInvalidLengthError(handle, len(data), 1)
	}

	level := BleAlertLevel(data[0])
	if !level.Valid() {
		return 0, pxutil.NewInvalidValueError(handle,
			pxutil.ATT_ERR_OUT_OF_RANGE,
			fmt.Sprintf("alert level %d out of range", data[0]))
	}

	return level, nil
}

// Connect starts a session.  A sounding link-loss alert is silenced.
func (f *Fsm) Connect(connHandle uint16) error {
	if f.sess != nil {
		return pxutil.NewConnError(connHandle, fmt.Sprintf(
			"already connected (conn_handle=%d)", f.sess.ConnHandle))
	}

	if f.State().Alerting() {
		f.act.StopAlert()
	}

	f.sess = &Session{
		ConnHandle:     connHandle,
		LinkLossLevel:  f.linkLossLevel,
		ImmediateLevel: BLE_ALERT_LEVEL_NONE,
	}
	f.setState(PROX_STATE_CONNECTED)

	return nil
}

func (f *Fsm) checkConn(connHandle uint16) error {
	if f.sess == nil {
		return pxutil.NewConnError(connHandle, "not connected")
	}
	if f.sess.ConnHandle != connHandle {
		return pxutil.NewConnError(connHandle, fmt.Sprintf(
			"unknown connection; current conn_handle=%d",
			f.sess.ConnHandle))
	}

	return nil
}

// Disconnect ends the session.  Only a link loss can sound an alert; a
// graceful disconnect silences any immediate alert.
func (f *Fsm) Disconnect(connHandle uint16,
	reason BleDisconnectReason) error {

	if f.sess == nil && f.State().Alerting() &&
		reason == BLE_DISCONNECT_LINK_LOSS {

		// Repeated link-loss report while already alerting.
		if f.policy == ALERT_POLICY_EVERY {
			log.Infof("repeated link loss; resounding %s alert",
				f.linkLossLevel)
			f.act.SoundAlert(f.linkLossLevel)
		}
		return nil
	}

	if err := f.checkConn(connHandle); err != nil {
		return err
	}

	sess := f.sess
	f.sess = nil

	log.Infof("disconnect: conn_handle=%d reason=%s",
		connHandle, BleDisconnectReasonToString(reason))

	if reason == BLE_DISCONNECT_LINK_LOSS &&
		f.linkLossLevel != BLE_ALERT_LEVEL_NONE {

		f.setState(alertState(f.linkLossLevel))
		f.act.SoundAlert(f.linkLossLevel)
		return nil
	}

	if sess.ImmediateLevel != BLE_ALERT_LEVEL_NONE {
		f.act.StopAlert()
	}
	f.setState(PROX_STATE_DISCONNECTED)

	return nil
}

// WriteImmediateAlert applies a validated write to the Immediate Alert
// Level.  The actuator is signalled exactly once per accepted write.
func (f *Fsm) WriteImmediateAlert(handle uint16, data []byte) error {
	level, err := ParseAlertLevel(handle, data)
	if err != nil {
		return err
	}

	if f.sess == nil {
		return pxutil.NewNotPermittedError(handle, ble.ErrWriteNotPerm,
			"immediate alert requires a connection")
	}

	f.sess.ImmediateLevel = level
	log.Infof("immediate alert: level=%s", level)

	if level == BLE_ALERT_LEVEL_NONE {
		f.act.StopAlert()
	} else {
		f.act.SoundAlert(level)
	}

	return nil
}

// WriteLinkLossAlert records the level to use on a future link loss.
func (f *Fsm) WriteLinkLossAlert(handle uint16, data []byte) error {
	level, err := ParseAlertLevel(handle, data)
	if err != nil {
		return err
	}

	f.linkLossLevel = level
	if f.sess != nil {
		f.sess.LinkLossLevel = level
	}
	log.Debugf("link loss alert level set: %s", level)

	return nil
}

// Acknowledge handles a user button press.  It silences a link-loss alert
// (returning to Disconnected) or a sounding immediate alert.  Returns true
// if anything was silenced.
func (f *Fsm) Acknowledge() bool {
	if f.State().Alerting() {
		f.act.StopAlert()
		f.setState(PROX_STATE_DISCONNECTED)
		return true
	}

	if f.sess != nil && f.sess.ImmediateLevel != BLE_ALERT_LEVEL_NONE {
		f.act.StopAlert()
		f.sess.ImmediateLevel = BLE_ALERT_LEVEL_NONE
		return true
	}

	return false
}

// AlertDone is reported by the actuator when a momentary alert finishes.
func (f *Fsm) AlertDone() {
	if f.sess != nil {
		f.sess.ImmediateLevel = BLE_ALERT_LEVEL_NONE
	}
}

func (f *Fsm) RssiUpdate(connHandle uint16, rssi int8) error {
	if err := f.checkConn(connHandle); err != nil {
		return err
	}

	f.sess.LastRssi = rssi
	f.sess.RssiValid = true

	return nil
}

// PathLoss returns tx power minus the last RSSI, in dB.  ok is false if no
// RSSI has been reported for the current connection.
func (f *Fsm) PathLoss() (loss int, ok bool) {
	if f.sess == nil || !f.sess.RssiValid {
		return 0, false
	}

	return int(f.txPower) - int(f.sess.LastRssi), true
}

// Snapshot is a point-in-time view of the state machine for diagnostics.
type Snapshot struct {
	State          ProxState     `json:"state" structs:"state"`
	Policy         AlertPolicy   `json:"policy" structs:"policy"`
	LinkLossLevel  BleAlertLevel `json:"link_loss_level" structs:"link_loss_level"`
	Connected      bool          `json:"connected" structs:"connected"`
	ConnHandle     uint16        `json:"conn_handle" structs:"conn_handle"`
	ImmediateLevel BleAlertLevel `json:"immediate_level" structs:"immediate_level"`
	Rssi           int8          `json:"rssi" structs:"rssi"`
	PathLoss       int           `json:"path_loss" structs:"path_loss"`
	PathLossValid  bool          `json:"path_loss_valid" structs:"path_loss_valid"`
}

func (f *Fsm) Snapshot() Snapshot {
	s := Snapshot{
		State:         f.State(),
		Policy:        f.policy,
		LinkLossLevel: f.linkLossLevel,
	}

	if f.sess != nil {
		s.Connected = true
		s.ConnHandle = f.sess.ConnHandle
		s.ImmediateLevel = f.sess.ImmediateLevel
		s.Rssi = f.sess.LastRssi
	}
	s.PathLoss, s.PathLossValid = f.PathLoss()

	return s
}
