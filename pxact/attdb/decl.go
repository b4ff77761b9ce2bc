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
	"encoding/binary"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

// AttrDecl is one row of a static attribute table.
type AttrDecl struct {
	Handle uint16
	Type   BleUuid
	Props  BleChrProps
	Perms  BleAttPerms
	MaxLen int
	Value  []byte
}

func PrimaryService(handle uint16, uuid BleUuid) AttrDecl {
	v := []byte(uuid.Ble())

	return AttrDecl{
		Handle: handle,
		Type:   Uuid16(BLE_ATT_TYPE_PRIMARY_SVC),
		Perms:  BLE_ATT_PERM_READABLE,
		MaxLen: len(v),
		Value:  v,
	}
}

// ChrDecl produces the declaration and value attributes of a
// characteristic.  The declaration's value is
// properties | value handle (le16) | uuid.
func ChrDecl(handle uint16, valHandle uint16, uuid BleUuid,
	props BleChrProps, perms BleAttPerms, maxLen int,
	value ...byte) []AttrDecl {

	dv := []byte{byte(props), 0, 0}
	binary.LittleEndian.PutUint16(dv[1:], valHandle)
	dv = append(dv, uuid.Ble()...)

	return []AttrDecl{
		{
			Handle: handle,
			Type:   Uuid16(BLE_ATT_TYPE_CHR),
			Props:  props,
			Perms:  BLE_ATT_PERM_READABLE,
			MaxLen: len(dv),
			Value:  dv,
		},
		{
			Handle: valHandle,
			Type:   uuid,
			Props:  props,
			Perms:  perms,
			MaxLen: maxLen,
			Value:  value,
		},
	}
}

func DscDecl(handle uint16, uuid BleUuid, perms BleAttPerms, maxLen int,
	value ...byte) AttrDecl {

	return AttrDecl{
		Handle: handle,
		Type:   uuid,
		Perms:  perms,
		MaxLen: maxLen,
		Value:  value,
	}
}

// SetDeclValue replaces the initial value of the entry with the given
// handle.  Used to apply board settings to a table before it is loaded.
func SetDeclValue(decls []AttrDecl, handle uint16, value []byte) error {
	for i := range decls {
		if decls[i].Handle != handle {
			continue
		}

		if len(value) > decls[i].MaxLen {
			return pxutil.FmtTableError(handle,
				"value too long; len=%d max=%d", len(value), decls[i].MaxLen)
		}
		decls[i].Value = append([]byte{}, value...)
		return nil
	}

	return pxutil.NewTableError(handle, "no such attribute")
}

// Size of the fixed part of an encoded table entry:
// handle(2) type(2) properties(1) permissions(1) max_len(1).
const tableEntryHdrSz = 7

// MarshalTable encodes a table in the flat firmware format.  Each entry is
// { le16 handle, le16 type, u8 properties, u8 permissions, u8 max_len,
// byte[max_len] value }; the value is zero-padded to max_len.  Only 16-bit
// attribute types can be represented.
func MarshalTable(decls []AttrDecl) ([]byte, error) {
	var buf bytes.Buffer

	for _, d := range decls {
		if !d.Type.Is16() {
			return nil, pxutil.FmtTableError(d.Handle,
				"128-bit type %s not representable", d.Type.String())
		}
		if d.MaxLen < 0 || d.MaxLen > 0xff {
			return nil, pxutil.FmtTableError(d.Handle,
				"max length %d not representable", d.MaxLen)
		}
		if len(d.Value) > d.MaxLen {
			return nil, pxutil.FmtTableError(d.Handle,
				"initial value longer than max; len=%d max=%d",
				len(d.Value), d.MaxLen)
		}

		hdr := make([]byte, tableEntryHdrSz)
		binary.LittleEndian.PutUint16(hdr[0:2], d.Handle)
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(d.Type.U16))
		hdr[4] = byte(d.Props)
		hdr[5] = byte(d.Perms)
		hdr[6] = byte(d.MaxLen)

		buf.Write(hdr)
		buf.Write(d.Value)
		buf.Write(make([]byte, d.MaxLen-len(d.Value)))
	}

	return buf.Bytes(), nil
}

// ParseTable decodes a table produced by MarshalTable.  The result still has
// to go through NewDB for validation.
func ParseTable(b []byte) ([]AttrDecl, error) {
	var decls []AttrDecl

	for off := 0; off < len(b); {
		if len(b)-off < tableEntryHdrSz {
			return nil, pxutil.FmtTableError(0,
				"truncated entry header at offset %d", off)
		}

		hdr := b[off : off+tableEntryHdrSz]
		d := AttrDecl{
			Handle: binary.LittleEndian.Uint16(hdr[0:2]),
			Type:   Uuid16(BleUuid16(binary.LittleEndian.Uint16(hdr[2:4]))),
			Props:  BleChrProps(hdr[4]),
			Perms:  BleAttPerms(hdr[5]),
			MaxLen: int(hdr[6]),
		}
		off += tableEntryHdrSz

		if len(b)-off < d.MaxLen {
			return nil, pxutil.FmtTableError(d.Handle,
				"truncated value; need %d bytes, have %d",
				d.MaxLen, len(b)-off)
		}
		d.Value = append([]byte{}, b[off:off+d.MaxLen]...)
		off += d.MaxLen

		decls = append(decls, d)
	}

	return decls, nil
}
