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
	"bytes"
	"strings"
	"testing"

	"github.com/JuulLabs-OSS/ble"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

const (
	tstSvcHandle    = 0x0010
	tstLvlHandle    = 0x0012
	tstLvlCccd      = 0x0013
	tstSecretHandle = 0x0015
	tstCmdHandle    = 0x0017
)

func testDecls() []AttrDecl {
	var decls []AttrDecl

	decls = append(decls, PrimaryService(tstSvcHandle, Uuid16(0x180f)))
	decls = append(decls, ChrDecl(0x0011, tstLvlHandle,
		Uuid16(BLE_CHR_BATTERY_LEVEL),
		BLE_GATT_F_READ|BLE_GATT_F_WRITE|BLE_GATT_F_NOTIFY,
		BLE_ATT_PERM_READABLE|BLE_ATT_PERM_WRITE_REQ, 1, 0x64)...)
	decls = append(decls, DscDecl(tstLvlCccd, Uuid16(BLE_ATT_TYPE_CCCD),
		BLE_ATT_PERM_READABLE|BLE_ATT_PERM_WRITE_REQ, 2, 0, 0))
	decls = append(decls, ChrDecl(0x0014, tstSecretHandle,
		Uuid16(0x2a99), BLE_GATT_F_READ|BLE_GATT_F_WRITE,
		BLE_ATT_PERM_READABLE|BLE_ATT_PERM_WRITE_REQ|BLE_ATT_PERM_ENCRYPTED,
		4, 1, 2)...)
	decls = append(decls, ChrDecl(0x0016, tstCmdHandle,
		Uuid16(BLE_CHR_ALERT_LEVEL), BLE_GATT_F_WRITE_NO_RSP,
		BLE_ATT_PERM_WRITE_CMD, 1, 0)...)

	return decls
}

func testDB(t *testing.T) *DB {
	db, err := NewDB(testDecls())
	if err != nil {
		t.Fatalf("NewDB: %s", err.Error())
	}

	return db
}

func TestNewDBStructure(t *testing.T) {
	db := testDB(t)

	svcs := db.Services()
	if len(svcs) != 1 {
		t.Fatalf("want 1 service, got %d", len(svcs))
	}
	s := svcs[0]
	if s.StartHandle != tstSvcHandle || s.EndHandle != tstCmdHandle {
		t.Fatalf("bad service range: 0x%04x-0x%04x",
			s.StartHandle, s.EndHandle)
	}
	if len(s.Chrs) != 3 {
		t.Fatalf("want 3 characteristics, got %d", len(s.Chrs))
	}

	c := db.FindChr(Uuid16(0x180f), Uuid16(BLE_CHR_BATTERY_LEVEL))
	if c == nil {
		t.Fatalf("battery level characteristic not found")
	}
	if c.ValHandle != tstLvlHandle {
		t.Fatalf("want value handle 0x%04x, got 0x%04x",
			tstLvlHandle, c.ValHandle)
	}
	if c.SubscribeType() != CCCD_NOTIFY {
		t.Fatalf("want subscribe type notify, got 0x%04x",
			c.SubscribeType())
	}
	if db.FindChrByValHandle(tstLvlHandle) != c {
		t.Fatalf("lookup by value handle returned wrong characteristic")
	}

	owner, dsc := db.ChrForDescriptor(tstLvlCccd)
	if owner != c || dsc == nil || c.Cccd() != dsc {
		t.Fatalf("cccd not attached to its characteristic")
	}

	if owner, _ := db.ChrForDescriptor(tstLvlHandle); owner != nil {
		t.Fatalf("value attribute reported as descriptor")
	}
}

func TestNewDBRejects(t *testing.T) {
	good := testDecls()

	clone := func() []AttrDecl {
		return append([]AttrDecl{}, good...)
	}

	tests := []struct {
		name   string
		decls  func() []AttrDecl
		substr string
	}{
		{
			name:   "empty",
			decls:  func() []AttrDecl { return nil },
			substr: "empty",
		},
		{
			name: "duplicate handle",
			decls: func() []AttrDecl {
				d := clone()
				d[3].Handle = d[2].Handle
				return d
			},
			substr: "duplicate",
		},
		{
			name: "decreasing handle",
			decls: func() []AttrDecl {
				d := clone()
				d[3].Handle = 0x000f
				return d
			},
			substr: "not increasing",
		},
		{
			name: "value exceeds max",
			decls: func() []AttrDecl {
				d := clone()
				d[2].Value = []byte{1, 2}
				return d
			},
			substr: "longer than max",
		},
		{
			name: "no leading service",
			decls: func() []AttrDecl {
				return clone()[1:]
			},
			substr: "not a service",
		},
		{
			name: "value handle mismatch",
			decls: func() []AttrDecl {
				d := clone()
				d[1] = ChrDecl(0x0011, 0x0030,
					Uuid16(BLE_CHR_BATTERY_LEVEL), BLE_GATT_F_READ,
					BLE_ATT_PERM_READABLE, 1)[0]
				return d
			},
			substr: "points to",
		},
		{
			name: "orphan descriptor",
			decls: func() []AttrDecl {
				return []AttrDecl{
					PrimaryService(0x0001, Uuid16(BLE_SVC_GATT)),
					DscDecl(0x0002, Uuid16(BLE_ATT_TYPE_CCCD),
						BLE_ATT_PERM_READABLE, 2),
				}
			},
			substr: "does not follow",
		},
		{
			name: "dangling declaration",
			decls: func() []AttrDecl {
				d := clone()
				return d[:len(d)-1]
			},
			substr: "without value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDB(tt.decls())
			if err == nil {
				t.Fatalf("expected failure")
			}
			if !pxutil.IsTable(err) {
				t.Fatalf("want table error, got %T: %s", err, err.Error())
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Fatalf("error \"%s\" does not mention \"%s\"",
					err.Error(), tt.substr)
			}
		})
	}
}

func TestWriteThenRead(t *testing.T) {
	db := testDB(t)

	for _, v := range [][]byte{{0x00}, {0x37}, {}} {
		err := db.Write(tstLvlHandle, BLE_GATT_ACCESS_OP_WRITE_REQ, v, false)
		if err != nil {
			t.Fatalf("write %x: %s", v, err.Error())
		}

		got, err := db.Read(tstLvlHandle, false)
		if err != nil {
			t.Fatalf("read: %s", err.Error())
		}
		if !bytes.Equal(got, v) {
			t.Fatalf("want %x, got %x", v, got)
		}
	}
}

func TestOverlongWrite(t *testing.T) {
	db := testDB(t)

	err := db.Write(tstLvlHandle, BLE_GATT_ACCESS_OP_WRITE_REQ,
		[]byte{1, 2}, false)
	if !pxutil.IsInvalidLength(err) {
		t.Fatalf("want invalid length, got %v", err)
	}
	if pxutil.AttStatus(err) != ble.ErrInvalAttrValueLen {
		t.Fatalf("wrong status 0x%02x", uint8(pxutil.AttStatus(err)))
	}

	v, _ := db.Value(tstLvlHandle)
	if !bytes.Equal(v, []byte{0x64}) {
		t.Fatalf("value modified by rejected write: %x", v)
	}

	if err := db.SetValue(tstLvlHandle, []byte{1, 2}); !pxutil.IsInvalidLength(err) {
		t.Fatalf("SetValue: want invalid length, got %v", err)
	}
}

func TestAccessControl(t *testing.T) {
	tests := []struct {
		name      string
		handle    uint16
		op        BleGattOp
		encrypted bool
		status    ble.ATTError
	}{
		{"read ok", tstLvlHandle, BLE_GATT_ACCESS_OP_READ, false,
			ble.ErrSuccess},
		{"read write-only", tstCmdHandle, BLE_GATT_ACCESS_OP_READ, false,
			ble.ErrReadNotPerm},
		{"cmd to req-only", tstLvlHandle, BLE_GATT_ACCESS_OP_WRITE_CMD,
			false, ble.ErrWriteNotPerm},
		{"req to cmd-only", tstCmdHandle, BLE_GATT_ACCESS_OP_WRITE_REQ,
			false, ble.ErrWriteNotPerm},
		{"cmd ok", tstCmdHandle, BLE_GATT_ACCESS_OP_WRITE_CMD, false,
			ble.ErrSuccess},
		{"unencrypted read", tstSecretHandle, BLE_GATT_ACCESS_OP_READ,
			false, ble.ErrInsuffEnc},
		{"encrypted read", tstSecretHandle, BLE_GATT_ACCESS_OP_READ,
			true, ble.ErrSuccess},
		{"unencrypted write", tstSecretHandle,
			BLE_GATT_ACCESS_OP_WRITE_REQ, false, ble.ErrInsuffEnc},
		{"missing handle", 0x0099, BLE_GATT_ACCESS_OP_READ, true,
			ble.ErrInvalidHandle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)

			before, _ := db.Value(tt.handle)

			var err error
			if tt.op == BLE_GATT_ACCESS_OP_READ {
				_, err = db.Read(tt.handle, tt.encrypted)
			} else {
				err = db.Write(tt.handle, tt.op, []byte{0x02},
					tt.encrypted)
			}

			if st := pxutil.AttStatus(err); st != tt.status {
				t.Fatalf("want status 0x%02x, got 0x%02x (%v)",
					uint8(tt.status), uint8(st), err)
			}

			if err != nil {
				after, _ := db.Value(tt.handle)
				if !bytes.Equal(before, after) {
					t.Fatalf("rejected op changed value: %x -> %x",
						before, after)
				}
			}
		})
	}
}

func TestWriteHook(t *testing.T) {
	db := testDB(t)

	calls := 0
	err := db.HookWrite(tstLvlHandle,
		func(a *Attr, op BleGattOp, data []byte) error {
			calls++
			if data[0] > 100 {
				return pxutil.NewInvalidValueError(a.Handle,
					pxutil.ATT_ERR_OUT_OF_RANGE, "too big")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("HookWrite: %s", err.Error())
	}

	err = db.Write(tstLvlHandle, BLE_GATT_ACCESS_OP_WRITE_REQ,
		[]byte{101}, false)
	if !pxutil.IsInvalidValue(err) {
		t.Fatalf("want invalid value, got %v", err)
	}
	if v, _ := db.Value(tstLvlHandle); v[0] != 0x64 {
		t.Fatalf("hook rejection did not preserve value: %x", v)
	}

	// Length check happens before the hook.
	err = db.Write(tstLvlHandle, BLE_GATT_ACCESS_OP_WRITE_REQ,
		[]byte{1, 2, 3}, false)
	if !pxutil.IsInvalidLength(err) {
		t.Fatalf("want invalid length, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("hook called %d times; want 1", calls)
	}

	if err := db.HookWrite(0x0099, nil); !pxutil.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestFprint(t *testing.T) {
	db := testDB(t)

	var buf bytes.Buffer
	db.Fprint(&buf)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(db.Attrs())+1 {
		t.Fatalf("want %d lines, got %d", len(db.Attrs())+1, len(lines))
	}
	if !strings.HasPrefix(lines[1], "0x0010") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}
}
