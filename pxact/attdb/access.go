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
	"github.com/JuulLabs-OSS/ble"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

// CheckAccess enforces an attribute's permissions for one operation.  It
// never touches the attribute's value.
func CheckAccess(a *Attr, op BleGattOp, encrypted bool) error {
	switch op {
	case BLE_GATT_ACCESS_OP_READ:
		if a.Perms&BLE_ATT_PERM_READABLE == 0 {
			return pxutil.NewNotPermittedError(a.Handle,
				ble.ErrReadNotPerm, "attribute not readable")
		}

	case BLE_GATT_ACCESS_OP_WRITE_REQ:
		if a.Perms&BLE_ATT_PERM_WRITE_REQ == 0 {
			return pxutil.NewNotPermittedError(a.Handle,
				ble.ErrWriteNotPerm, "write request not permitted")
		}

	case BLE_GATT_ACCESS_OP_WRITE_CMD:
		if a.Perms&BLE_ATT_PERM_WRITE_CMD == 0 {
			return pxutil.NewNotPermittedError(a.Handle,
				ble.ErrWriteNotPerm, "write command not permitted")
		}

	default:
		return pxutil.NewNotPermittedError(a.Handle,
			ble.ErrReqNotSupp, "unsupported operation")
	}

	if a.Perms&BLE_ATT_PERM_ENCRYPTED != 0 && !encrypted {
		return pxutil.NewNotPermittedError(a.Handle,
			ble.ErrInsuffEnc, "link not encrypted")
	}

	return nil
}
