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

package attdb

import (
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
)

type Descriptor struct {
	Uuid   BleUuid
	Handle uint16
	Perms  BleAttPerms
}

type Characteristic struct {
	Uuid       BleUuid
	DefHandle  uint16
	ValHandle  uint16
	Properties BleChrProps
	Dscs       []*Descriptor
}

type Service struct {
	Uuid        BleUuid
	StartHandle uint16
	EndHandle   uint16
	Chrs        []*Characteristic
}

type BleChrId struct {
	SvcUuid BleUuid
	ChrUuid BleUuid
}

func (c *Characteristic) String() string {
	return c.Uuid.String()
}

// SubscribeType returns the CCCD bits a peer may enable for this
// characteristic.
func (c *Characteristic) SubscribeType() uint16 {
	var bits uint16

	if c.Properties&BLE_GATT_F_NOTIFY != 0 {
		bits |= CCCD_NOTIFY
	}
	if c.Properties&BLE_GATT_F_INDICATE != 0 {
		bits |= CCCD_INDICATE
	}

	return bits
}

func (c *Characteristic) Cccd() *Descriptor {
	return FindDscByUuid(c, Uuid16(BLE_ATT_TYPE_CCCD))
}

func FindDscByUuid(chr *Characteristic, uuid BleUuid) *Descriptor {
	for _, d := range chr.Dscs {
		if CompareUuids(uuid, d.Uuid) == 0 {
			return d
		}
	}

	return nil
}

// CCCD value bits.
const (
	CCCD_NOTIFY   uint16 = 0x0001
	CCCD_INDICATE uint16 = 0x0002
)
