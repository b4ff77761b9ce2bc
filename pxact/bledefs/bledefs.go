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

package bledefs

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JuulLabs-OSS/ble"
)

const BLE_ATT_ATTR_MAX_LEN = 512

const BLE_ATT_MTU_DFLT = 23

// Reserved attribute types (GATT declarations and descriptors).
const (
	BLE_ATT_TYPE_PRIMARY_SVC   BleUuid16 = 0x2800
	BLE_ATT_TYPE_SECONDARY_SVC BleUuid16 = 0x2801
	BLE_ATT_TYPE_INCLUDE       BleUuid16 = 0x2802
	BLE_ATT_TYPE_CHR           BleUuid16 = 0x2803
	BLE_ATT_TYPE_CHR_EXT_PROPS BleUuid16 = 0x2900
	BLE_ATT_TYPE_CHR_USER_DESC BleUuid16 = 0x2901
	BLE_ATT_TYPE_CCCD          BleUuid16 = 0x2902
	BLE_ATT_TYPE_SCCD          BleUuid16 = 0x2903
)

// Services used by the proximity reporter.
const (
	BLE_SVC_GAP             BleUuid16 = 0x1800
	BLE_SVC_GATT            BleUuid16 = 0x1801
	BLE_SVC_IMMEDIATE_ALERT BleUuid16 = 0x1802
	BLE_SVC_LINK_LOSS       BleUuid16 = 0x1803
	BLE_SVC_TX_POWER        BleUuid16 = 0x1804
	BLE_SVC_BATTERY         BleUuid16 = 0x180f
)

// Characteristics used by the proximity reporter.
const (
	BLE_CHR_DEVICE_NAME         BleUuid16 = 0x2a00
	BLE_CHR_APPEARANCE          BleUuid16 = 0x2a01
	BLE_CHR_SERVICE_CHANGED     BleUuid16 = 0x2a05
	BLE_CHR_ALERT_LEVEL         BleUuid16 = 0x2a06
	BLE_CHR_TX_POWER_LEVEL      BleUuid16 = 0x2a07
	BLE_CHR_BATTERY_LEVEL       BleUuid16 = 0x2a19
	BLE_CHR_BATTERY_POWER_STATE BleUuid16 = 0x2a1a
	BLE_CHR_BATTERY_LEVEL_STATE BleUuid16 = 0x2a1b
	BLE_CHR_SERVICE_REQUIRED    BleUuid16 = 0x2a3b
	BLE_CHR_REMOVABLE           BleUuid16 = 0x2a3c
)

type BleUuid16 uint16

func (bu16 BleUuid16) String() string {
	return fmt.Sprintf("0x%04x", uint16(bu16))
}

func ParseUuid16(s string) (BleUuid16, error) {
	val, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return BleUuid16(0), fmt.Errorf("Invalid UUID: %s", s)
	}

	return BleUuid16(val), nil
}

type BleUuid128 [16]byte

func (bu128 *BleUuid128) String() string {
	var buf bytes.Buffer
	buf.Grow(len(bu128)*2 + 3)

	for i, b := range bu128 {
		switch i {
		case 4, 6, 8, 10:
			buf.WriteString("-")
		}

		fmt.Fprintf(&buf, "%02x", b)
	}

	return buf.String()
}

func ParseUuid128(s string) (BleUuid128, error) {
	var bu128 BleUuid128

	if len(s) != 36 {
		return bu128, fmt.Errorf("Invalid UUID: %s", s)
	}

	boff := 0
	for i := 0; i < 36; {
		switch i {
		case 8, 13, 18, 23:
			if s[i] != '-' {
				return bu128, fmt.Errorf("Invalid UUID: %s", s)
			}
			i++

		default:
			u64, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				return bu128, fmt.Errorf("Invalid UUID: %s", s)
			}
			bu128[boff] = byte(u64)
			i += 2
			boff++
		}
	}

	return bu128, nil
}

// BleUuid is either a 16-bit or a 128-bit attribute type.
type BleUuid struct {
	// Set to 0 if the 128-bit UUID should be used.
	U16 BleUuid16

	// Ignored if U16 is nonzero.
	U128 BleUuid128
}

func Uuid16(u16 BleUuid16) BleUuid {
	return BleUuid{U16: u16}
}

func (bu BleUuid) Is16() bool {
	return bu.U16 != 0
}

func (bu BleUuid) String() string {
	if bu.U16 != 0 {
		return bu.U16.String()
	} else {
		return bu.U128.String()
	}
}

// Ble converts the UUID to its over-the-air (little-endian) form.
func (bu BleUuid) Ble() ble.UUID {
	if bu.U16 != 0 {
		return ble.UUID16(uint16(bu.U16))
	}

	return ble.UUID(ble.Reverse(bu.U128[:]))
}

// Name returns the SIG-assigned name of the UUID, or "" if it is not a
// well-known type.
func (bu BleUuid) Name() string {
	return ble.Name(bu.Ble())
}

func UuidFromBle(u ble.UUID) (BleUuid, error) {
	bu := BleUuid{}

	switch len(u) {
	case 2:
		bu.U16 = BleUuid16(binary.LittleEndian.Uint16(u))
	case 16:
		copy(bu.U128[:], ble.Reverse(u))
	default:
		return bu, fmt.Errorf("Invalid UUID length: %d", len(u))
	}

	return bu, nil
}

func ParseUuid(uuidStr string) (BleUuid, error) {
	bu := BleUuid{}
	var err error

	// First, try to parse as a 16-bit UUID.
	bu.U16, err = ParseUuid16(uuidStr)
	if err == nil {
		return bu, nil
	}

	// Try to parse as a 128-bit UUID.
	bu.U128, err = ParseUuid128(uuidStr)
	if err == nil {
		return bu, nil
	}

	return bu, err
}

func (bu BleUuid) MarshalJSON() ([]byte, error) {
	if bu.U16 != 0 {
		return json.Marshal(bu.U16)
	} else {
		return json.Marshal(bu.U128.String())
	}
}

func (bu *BleUuid) UnmarshalJSON(data []byte) error {
	var err error

	// If the value is a string, try to parse a UUID from it.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*bu, err = ParseUuid(s)
		return err
	}

	// Not a string; maybe it's a raw 16-bit number.
	if err = json.Unmarshal(data, &bu.U16); err != nil {
		return err
	}

	return nil
}

func CompareUuids(a BleUuid, b BleUuid) int {
	if a.U16 != 0 || b.U16 != 0 {
		return int(a.U16) - int(b.U16)
	} else {
		return bytes.Compare(a.U128[:], b.U128[:])
	}
}

// Characteristic properties, as carried in a characteristic declaration.
type BleChrProps uint8

const (
	BLE_GATT_F_BROADCAST    BleChrProps = BleChrProps(ble.CharBroadcast)
	BLE_GATT_F_READ         BleChrProps = BleChrProps(ble.CharRead)
	BLE_GATT_F_WRITE_NO_RSP BleChrProps = BleChrProps(ble.CharWriteNR)
	BLE_GATT_F_WRITE        BleChrProps = BleChrProps(ble.CharWrite)
	BLE_GATT_F_NOTIFY       BleChrProps = BleChrProps(ble.CharNotify)
	BLE_GATT_F_INDICATE     BleChrProps = BleChrProps(ble.CharIndicate)
)

type flagName struct {
	bit  uint8
	name string
}

var bleChrPropNames = []flagName{
	{uint8(BLE_GATT_F_BROADCAST), "broadcast"},
	{uint8(BLE_GATT_F_READ), "read"},
	{uint8(BLE_GATT_F_WRITE_NO_RSP), "write_no_rsp"},
	{uint8(BLE_GATT_F_WRITE), "write"},
	{uint8(BLE_GATT_F_NOTIFY), "notify"},
	{uint8(BLE_GATT_F_INDICATE), "indicate"},
}

func (p BleChrProps) String() string {
	return flagString(uint8(p), bleChrPropNames)
}

// Server-side attribute permissions.  These never go over the air.
type BleAttPerms uint8

const (
	BLE_ATT_PERM_NONE      BleAttPerms = 0x00
	BLE_ATT_PERM_READABLE  BleAttPerms = 0x02
	BLE_ATT_PERM_WRITE_CMD BleAttPerms = 0x04
	BLE_ATT_PERM_WRITE_REQ BleAttPerms = 0x08
	BLE_ATT_PERM_ENCRYPTED BleAttPerms = 0x10
)

var bleAttPermNames = []flagName{
	{uint8(BLE_ATT_PERM_READABLE), "readable"},
	{uint8(BLE_ATT_PERM_WRITE_CMD), "write_cmd"},
	{uint8(BLE_ATT_PERM_WRITE_REQ), "write_req"},
	{uint8(BLE_ATT_PERM_ENCRYPTED), "encrypted"},
}

func (p BleAttPerms) String() string {
	return flagString(uint8(p), bleAttPermNames)
}

func flagString(v uint8, names []flagName) string {
	if v == 0 {
		return "none"
	}

	var buf bytes.Buffer
	for _, n := range names {
		if v&n.bit != 0 {
			if buf.Len() > 0 {
				buf.WriteString("|")
			}
			buf.WriteString(n.name)
		}
	}

	return buf.String()
}

type BleGattOp int

const (
	BLE_GATT_ACCESS_OP_READ BleGattOp = iota
	BLE_GATT_ACCESS_OP_WRITE_REQ
	BLE_GATT_ACCESS_OP_WRITE_CMD
)

var BleGattOpStringMap = map[BleGattOp]string{
	BLE_GATT_ACCESS_OP_READ:      "read",
	BLE_GATT_ACCESS_OP_WRITE_REQ: "write_req",
	BLE_GATT_ACCESS_OP_WRITE_CMD: "write_cmd",
}

func BleGattOpToString(op BleGattOp) string {
	s := BleGattOpStringMap[op]
	if s == "" {
		return "???"
	}

	return s
}

type BleDisconnectReason int

const (
	BLE_DISCONNECT_GRACEFUL BleDisconnectReason = iota
	BLE_DISCONNECT_LINK_LOSS
)

var BleDisconnectReasonStringMap = map[BleDisconnectReason]string{
	BLE_DISCONNECT_GRACEFUL:  "graceful",
	BLE_DISCONNECT_LINK_LOSS: "link_loss",
}

func BleDisconnectReasonToString(r BleDisconnectReason) string {
	s := BleDisconnectReasonStringMap[r]
	if s == "" {
		return "???"
	}

	return s
}

func BleDisconnectReasonFromString(s string) (BleDisconnectReason, error) {
	for r, name := range BleDisconnectReasonStringMap {
		if s == name {
			return r, nil
		}
	}

	return BleDisconnectReason(0),
		fmt.Errorf("Invalid BleDisconnectReason string: %s", s)
}

func (r BleDisconnectReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(BleDisconnectReasonToString(r))
}

func (r *BleDisconnectReason) UnmarshalJSON(data []byte) error {
	var err error

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*r, err = BleDisconnectReasonFromString(s)
	return err
}

// Alert Level characteristic values (org.bluetooth.characteristic.alert_level).
type BleAlertLevel uint8

const (
	BLE_ALERT_LEVEL_NONE BleAlertLevel = iota
	BLE_ALERT_LEVEL_MILD
	BLE_ALERT_LEVEL_HIGH
)

var BleAlertLevelStringMap = map[BleAlertLevel]string{
	BLE_ALERT_LEVEL_NONE: "none",
	BLE_ALERT_LEVEL_MILD: "mild",
	BLE_ALERT_LEVEL_HIGH: "high",
}

func BleAlertLevelToString(l BleAlertLevel) string {
	s := BleAlertLevelStringMap[l]
	if s == "" {
		return "???"
	}

	return s
}

func BleAlertLevelFromString(s string) (BleAlertLevel, error) {
	for l, name := range BleAlertLevelStringMap {
		if s == name {
			return l, nil
		}
	}

	return BleAlertLevel(0),
		fmt.Errorf("Invalid BleAlertLevel string: %s", s)
}

func (l BleAlertLevel) String() string {
	return BleAlertLevelToString(l)
}

func (l BleAlertLevel) Valid() bool {
	_, ok := BleAlertLevelStringMap[l]
	return ok
}

func (l BleAlertLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(BleAlertLevelToString(l))
}

func (l *BleAlertLevel) UnmarshalJSON(data []byte) error {
	var err error

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*l, err = BleAlertLevelFromString(s)
	return err
}

// Describes the link-layer view of the single peer connection.
type BleConnDesc struct {
	ConnHandle uint16
	Encrypted  bool
}

func (d *BleConnDesc) String() string {
	return fmt.Sprintf("conn_handle=%d encrypted=%v",
		d.ConnHandle, d.Encrypted)
}
