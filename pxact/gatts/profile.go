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

package gatts

import (
	"mynewt.apache.org/proxsvr/pxact/attdb"
	"mynewt.apache.org/proxsvr/pxact/battery"
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
)

// Attribute handles of the key fob's table.
const (
	HANDLE_SVC_GATT           = 0x0001
	HANDLE_SERVICE_CHANGED    = 0x0003
	HANDLE_SVC_GAP            = 0x0014
	HANDLE_DEVICE_NAME        = 0x0016
	HANDLE_APPEARANCE         = 0x0018
	HANDLE_SVC_LINK_LOSS      = 0x0028
	HANDLE_LINK_LOSS_LEVEL    = 0x002a
	HANDLE_SVC_IMM_ALERT      = 0x002b
	HANDLE_IMM_ALERT_LEVEL    = 0x002d
	HANDLE_SVC_TX_POWER       = 0x002e
	HANDLE_TX_POWER_LEVEL     = 0x0030
	HANDLE_SVC_BATTERY        = 0x0031
	HANDLE_BATTERY_LEVEL      = 0x0033
	HANDLE_BATTERY_LEVEL_CCCD = 0x0034
	HANDLE_POWER_STATE        = 0x0042
	HANDLE_POWER_STATE_CCCD   = 0x0043
	HANDLE_SERVICE_REQUIRED   = 0x0045
	HANDLE_SVC_REQUIRED_CCCD  = 0x0046
	HANDLE_REMOVABLE          = 0x0048
	HANDLE_LEVEL_STATE        = 0x004b
	HANDLE_LEVEL_STATE_CCCD   = 0x004c
	HANDLE_LEVEL_STATE_SCCD   = 0x004d
)

const DEVICE_NAME_DFLT = "LE Prox key fob"

// Removable characteristic: unknown whether the battery can be replaced.
const REMOVABLE_UNKNOWN = 0x00

const TX_POWER_DFLT int8 = 4

// ProximityTable returns the key fob's attribute table: GATT, GAP, Link
// Loss, Immediate Alert, Tx Power and Battery services.
func ProximityTable() []attdb.AttrDecl {
	var d []attdb.AttrDecl

	cfgPerms := BLE_ATT_PERM_READABLE | BLE_ATT_PERM_WRITE_CMD |
		BLE_ATT_PERM_WRITE_REQ

	uuid := Uuid16
	cccd := uuid(BLE_ATT_TYPE_CCCD)

	d = append(d, attdb.PrimaryService(HANDLE_SVC_GATT, uuid(BLE_SVC_GATT)))
	d = append(d, attdb.ChrDecl(0x0002, HANDLE_SERVICE_CHANGED,
		uuid(BLE_CHR_SERVICE_CHANGED), BLE_GATT_F_INDICATE,
		BLE_ATT_PERM_NONE, 4,
		0x00, 0x00, 0x00, 0x00)...)

	d = append(d, attdb.PrimaryService(HANDLE_SVC_GAP, uuid(BLE_SVC_GAP)))
	d = append(d, attdb.ChrDecl(0x0015, HANDLE_DEVICE_NAME,
		uuid(BLE_CHR_DEVICE_NAME), BLE_GATT_F_READ,
		BLE_ATT_PERM_READABLE, 15,
		[]byte(DEVICE_NAME_DFLT)...)...)
	d = append(d, attdb.ChrDecl(0x0017, HANDLE_APPEARANCE,
		uuid(BLE_CHR_APPEARANCE), BLE_GATT_F_READ,
		BLE_ATT_PERM_READABLE, 2,
		0x00, 0x00)...)

	d = append(d, attdb.PrimaryService(HANDLE_SVC_LINK_LOSS,
		uuid(BLE_SVC_LINK_LOSS)))
	d = append(d, attdb.ChrDecl(0x0029, HANDLE_LINK_LOSS_LEVEL,
		uuid(BLE_CHR_ALERT_LEVEL), BLE_GATT_F_READ|BLE_GATT_F_WRITE,
		BLE_ATT_PERM_READABLE|BLE_ATT_PERM_WRITE_REQ, 1,
		byte(BLE_ALERT_LEVEL_MILD))...)

	d = append(d, attdb.PrimaryService(HANDLE_SVC_IMM_ALERT,
		uuid(BLE_SVC_IMMEDIATE_ALERT)))
	d = append(d, attdb.ChrDecl(0x002c, HANDLE_IMM_ALERT_LEVEL,
		uuid(BLE_CHR_ALERT_LEVEL), BLE_GATT_F_WRITE_NO_RSP,
		BLE_ATT_PERM_WRITE_CMD, 1,
		byte(BLE_ALERT_LEVEL_NONE))...)

	// Must match the advertised tx power.
	d = append(d, attdb.PrimaryService(HANDLE_SVC_TX_POWER,
		uuid(BLE_SVC_TX_POWER)))
	d = append(d, attdb.ChrDecl(0x002f, HANDLE_TX_POWER_LEVEL,
		uuid(BLE_CHR_TX_POWER_LEVEL), BLE_GATT_F_READ,
		BLE_ATT_PERM_READABLE, 1,
		byte(TX_POWER_DFLT))...)

	d = append(d, attdb.PrimaryService(HANDLE_SVC_BATTERY,
		uuid(BLE_SVC_BATTERY)))
	d = append(d, attdb.ChrDecl(0x0032, HANDLE_BATTERY_LEVEL,
		uuid(BLE_CHR_BATTERY_LEVEL), BLE_GATT_F_READ|BLE_GATT_F_NOTIFY,
		BLE_ATT_PERM_READABLE, 1,
		100)...)
	d = append(d, attdb.DscDecl(HANDLE_BATTERY_LEVEL_CCCD, cccd,
		cfgPerms, 2, 0x00, 0x00))

	d = append(d, attdb.ChrDecl(0x0041, HANDLE_POWER_STATE,
		uuid(BLE_CHR_BATTERY_POWER_STATE), BLE_GATT_F_READ|BLE_GATT_F_NOTIFY,
		BLE_ATT_PERM_READABLE, 1,
		battery.POWER_STATE_DFLT)...)
	d = append(d, attdb.DscDecl(HANDLE_POWER_STATE_CCCD, cccd,
		cfgPerms, 2, 0x00, 0x00))

	d = append(d, attdb.ChrDecl(0x0044, HANDLE_SERVICE_REQUIRED,
		uuid(BLE_CHR_SERVICE_REQUIRED), BLE_GATT_F_READ|BLE_GATT_F_NOTIFY,
		BLE_ATT_PERM_READABLE, 1,
		byte(battery.SERVICE_REQUIRED_NO))...)
	d = append(d, attdb.DscDecl(HANDLE_SVC_REQUIRED_CCCD, cccd,
		cfgPerms, 2, 0x00, 0x00))

	d = append(d, attdb.ChrDecl(0x0047, HANDLE_REMOVABLE,
		uuid(BLE_CHR_REMOVABLE), BLE_GATT_F_READ,
		BLE_ATT_PERM_READABLE, 1,
		REMOVABLE_UNKNOWN)...)

	// Level, power state, namespace, description (le16).
	d = append(d, attdb.ChrDecl(0x004a, HANDLE_LEVEL_STATE,
		uuid(BLE_CHR_BATTERY_LEVEL_STATE),
		BLE_GATT_F_BROADCAST|BLE_GATT_F_NOTIFY,
		BLE_ATT_PERM_NONE, battery.LEVEL_STATE_LEN,
		100, battery.POWER_STATE_DFLT, 0x00, 0x00, 0x00)...)
	d = append(d, attdb.DscDecl(HANDLE_LEVEL_STATE_CCCD, cccd,
		cfgPerms, 2, 0x00, 0x00))
	d = append(d, attdb.DscDecl(HANDLE_LEVEL_STATE_SCCD,
		uuid(BLE_ATT_TYPE_SCCD), cfgPerms, 2, 0x00, 0x00))

	return d
}
