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
	"testing"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

func TestMarshalTableLayout(t *testing.T) {
	decls := ChrDecl(0x0029, 0x002a, Uuid16(BLE_CHR_ALERT_LEVEL),
		BLE_GATT_F_READ|BLE_GATT_F_WRITE,
		BLE_ATT_PERM_READABLE|BLE_ATT_PERM_WRITE_REQ, 2, 0x01)

	b, err := MarshalTable(decls)
	if err != nil {
		t.Fatalf("MarshalTable: %s", err.Error())
	}

	exp := []byte{
		// Declaration: props=0x0a, value handle 0x002a, uuid 0x2a06.
		0x29, 0x00, 0x03, 0x28, 0x0a, 0x02, 0x05,
		0x0a, 0x2a, 0x00, 0x06, 0x2a,

		// Value, zero-padded to max_len.
		0x2a, 0x00, 0x06, 0x2a, 0x0a, 0x0a, 0x02,
		0x01, 0x00,
	}
	if !bytes.Equal(b, exp) {
		t.Fatalf("bad encoding:\nwant %x\ngot  %x", exp, b)
	}
}

func TestParseTable(t *testing.T) {
	b, err := MarshalTable(testDecls())
	if err != nil {
		t.Fatalf("MarshalTable: %s", err.Error())
	}

	decls, err := ParseTable(b)
	if err != nil {
		t.Fatalf("ParseTable: %s", err.Error())
	}

	db, err := NewDB(decls)
	if err != nil {
		t.Fatalf("NewDB on parsed table: %s", err.Error())
	}

	// The secret characteristic's two-byte initial value is padded to four.
	v, _ := db.Value(tstSecretHandle)
	if !bytes.Equal(v, []byte{1, 2, 0, 0}) {
		t.Fatalf("unexpected padded value %x", v)
	}

	if _, err := ParseTable(b[:len(b)-1]); !pxutil.IsTable(err) {
		t.Fatalf("truncated table: want table error, got %v", err)
	}
	if _, err := ParseTable(b[:3]); !pxutil.IsTable(err) {
		t.Fatalf("truncated header: want table error, got %v", err)
	}
}

func TestMarshalTableRejects128(t *testing.T) {
	u, err := ParseUuid("9b3c81d5-7ca2-4e4a-a1ea-9c2d2f5d2b11")
	if err != nil {
		t.Fatalf("ParseUuid: %s", err.Error())
	}

	_, err = MarshalTable([]AttrDecl{PrimaryService(0x0001, u)})
	if err != nil {
		t.Fatalf("service with 128-bit value should encode: %s",
			err.Error())
	}

	_, err = MarshalTable([]AttrDecl{DscDecl(0x0002, u, 0, 0)})
	if !pxutil.IsTable(err) {
		t.Fatalf("want table error, got %v", err)
	}
}

func TestSetDeclValue(t *testing.T) {
	decls := ChrDecl(0x0015, 0x0016, Uuid16(BLE_CHR_DEVICE_NAME),
		BLE_GATT_F_READ, BLE_ATT_PERM_READABLE, 4, 'f', 'o', 'b')

	if err := SetDeclValue(decls, 0x0016, []byte("tag")); err != nil {
		t.Fatalf("SetDeclValue: %s", err.Error())
	}
	if string(decls[1].Value) != "tag" {
		t.Fatalf("value not replaced: %q", decls[1].Value)
	}

	if err := SetDeclValue(decls, 0x0016, []byte("toolong")); !pxutil.IsTable(err) {
		t.Fatalf("overlong value: want table error, got %v", err)
	}
	if string(decls[1].Value) != "tag" {
		t.Fatalf("rejected value applied: %q", decls[1].Value)
	}

	if err := SetDeclValue(decls, 0x0099, nil); !pxutil.IsTable(err) {
		t.Fatalf("unknown handle: want table error, got %v", err)
	}
}
