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
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

// WriteHook validates a peer write before it is committed.  A non-nil error
// rejects the write; the stored value is left untouched.
type WriteHook func(a *Attr, op BleGattOp, data []byte) error

type Attr struct {
	Handle uint16
	Type   BleUuid
	Props  BleChrProps
	Perms  BleAttPerms
	MaxLen int

	value []byte
	hook  WriteHook
}

func (a *Attr) String() string {
	return fmt.Sprintf("handle=0x%04x type=%s", a.Handle, a.Type.String())
}

// Value returns a copy of the attribute's current value.
func (a *Attr) Value() []byte {
	return append([]byte{}, a.value...)
}

// DB is the attribute database.  It is not safe for concurrent use; all
// access happens from the server's event loop.
type DB struct {
	attrs []*Attr
	idx   map[uint16]*Attr

	svcs     []*Service
	chrs     map[BleChrId]*Characteristic
	valChrs  map[uint16]*Characteristic
	dscChrs  map[uint16]*Characteristic
	dscAttrs map[uint16]*Descriptor
}

func isSvcDecl(t BleUuid) bool {
	return t.Is16() &&
		(t.U16 == BLE_ATT_TYPE_PRIMARY_SVC ||
			t.U16 == BLE_ATT_TYPE_SECONDARY_SVC)
}

func isChrDecl(t BleUuid) bool {
	return t.Is16() && t.U16 == BLE_ATT_TYPE_CHR
}

// NewDB builds and validates a database from a declaration list.  Any
// structural defect is reported as a TableError.
func NewDB(decls []AttrDecl) (*DB, error) {
	if len(decls) == 0 {
		return nil, pxutil.NewTableError(0, "empty attribute table")
	}

	db := &DB{
		idx:      map[uint16]*Attr{},
		chrs:     map[BleChrId]*Characteristic{},
		valChrs:  map[uint16]*Characteristic{},
		dscChrs:  map[uint16]*Characteristic{},
		dscAttrs: map[uint16]*Descriptor{},
	}

	var svc *Service
	var chr *Characteristic

	// Set while the attribute following a characteristic declaration is
	// still expected.
	var pendingChr *Characteristic

	var prevHandle uint16
	for i, d := range decls {
		if d.Handle == 0 {
			return nil, pxutil.NewTableError(0, "handle 0x0000 is reserved")
		}
		if _, ok := db.idx[d.Handle]; ok {
			return nil, pxutil.NewTableError(d.Handle, "duplicate handle")
		}
		if i > 0 && d.Handle <= prevHandle {
			return nil, pxutil.FmtTableError(d.Handle,
				"handles not increasing; previous=0x%04x", prevHandle)
		}
		if d.MaxLen < 0 || d.MaxLen > BLE_ATT_ATTR_MAX_LEN {
			return nil, pxutil.FmtTableError(d.Handle,
				"invalid max length %d", d.MaxLen)
		}
		if len(d.Value) > d.MaxLen {
			return nil, pxutil.FmtTableError(d.Handle,
				"initial value longer than max; len=%d max=%d",
				len(d.Value), d.MaxLen)
		}

		a := &Attr{
			Handle: d.Handle,
			Type:   d.Type,
			Props:  d.Props,
			Perms:  d.Perms,
			MaxLen: d.MaxLen,
			value:  append([]byte{}, d.Value...),
		}

		switch {
		case pendingChr != nil:
			if d.Handle != pendingChr.ValHandle {
				return nil, pxutil.FmtTableError(d.Handle,
					"characteristic declaration points to 0x%04x",
					pendingChr.ValHandle)
			}
			if CompareUuids(d.Type, pendingChr.Uuid) != 0 {
				return nil, pxutil.FmtTableError(d.Handle,
					"value type %s does not match declaration type %s",
					d.Type.String(), pendingChr.Uuid.String())
			}
			db.valChrs[d.Handle] = pendingChr
			pendingChr = nil

		case isSvcDecl(d.Type):
			uuid, err := UuidFromBle(d.Value)
			if err != nil {
				return nil, pxutil.FmtTableError(d.Handle,
					"bad service declaration: %s", err.Error())
			}

			if svc != nil {
				svc.EndHandle = prevHandle
			}
			svc = &Service{
				Uuid:        uuid,
				StartHandle: d.Handle,
			}
			db.svcs = append(db.svcs, svc)
			chr = nil

		case svc == nil:
			return nil, pxutil.NewTableError(d.Handle,
				"first attribute is not a service declaration")

		case isChrDecl(d.Type):
			c, err := parseChrDecl(d)
			if err != nil {
				return nil, err
			}
			if _, ok := db.chrs[BleChrId{svc.Uuid, c.Uuid}]; ok {
				log.Debugf("service %s declares characteristic %s twice; "+
					"lookups by uuid return the first",
					svc.Uuid.String(), c.Uuid.String())
			} else {
				db.chrs[BleChrId{svc.Uuid, c.Uuid}] = c
			}

			svc.Chrs = append(svc.Chrs, c)
			chr = c
			pendingChr = c

		case chr == nil:
			return nil, pxutil.FmtTableError(d.Handle,
				"attribute %s does not follow a characteristic",
				d.Type.String())

		default:
			dsc := &Descriptor{
				Uuid:   d.Type,
				Handle: d.Handle,
				Perms:  d.Perms,
			}
			chr.Dscs = append(chr.Dscs, dsc)
			db.dscChrs[d.Handle] = chr
			db.dscAttrs[d.Handle] = dsc
		}

		db.attrs = append(db.attrs, a)
		db.idx[a.Handle] = a
		prevHandle = d.Handle
	}

	if pendingChr != nil {
		return nil, pxutil.FmtTableError(pendingChr.DefHandle,
			"characteristic declaration without value attribute")
	}
	svc.EndHandle = prevHandle

	return db, nil
}

func parseChrDecl(d AttrDecl) (*Characteristic, error) {
	v := d.Value
	if len(v) != 5 && len(v) != 19 {
		return nil, pxutil.FmtTableError(d.Handle,
			"bad characteristic declaration length %d", len(v))
	}

	uuid, err := UuidFromBle(v[3:])
	if err != nil {
		return nil, pxutil.FmtTableError(d.Handle,
			"bad characteristic declaration: %s", err.Error())
	}

	return &Characteristic{
		Uuid:       uuid,
		DefHandle:  d.Handle,
		ValHandle:  binary.LittleEndian.Uint16(v[1:3]),
		Properties: BleChrProps(v[0]),
	}, nil
}

func (db *DB) Attr(handle uint16) *Attr {
	return db.idx[handle]
}

func (db *DB) Attrs() []*Attr {
	return db.attrs
}

func (db *DB) Services() []*Service {
	return db.svcs
}

func (db *DB) FindChr(svcUuid BleUuid, chrUuid BleUuid) *Characteristic {
	return db.chrs[BleChrId{svcUuid, chrUuid}]
}

func (db *DB) FindChrByValHandle(handle uint16) *Characteristic {
	return db.valChrs[handle]
}

// ChrForDescriptor returns the characteristic that owns the specified
// descriptor handle, along with the descriptor itself.
func (db *DB) ChrForDescriptor(handle uint16) (*Characteristic, *Descriptor) {
	return db.dscChrs[handle], db.dscAttrs[handle]
}

// HookWrite installs a write validator for the specified attribute,
// replacing any existing one.
func (db *DB) HookWrite(handle uint16, hook WriteHook) error {
	a := db.idx[handle]
	if a == nil {
		return pxutil.NewNotFoundError(handle)
	}

	a.hook = hook
	return nil
}

// Read performs a peer read.
func (db *DB) Read(handle uint16, encrypted bool) ([]byte, error) {
	a := db.idx[handle]
	if a == nil {
		return nil, pxutil.NewNotFoundError(handle)
	}

	if err := CheckAccess(a, BLE_GATT_ACCESS_OP_READ, encrypted); err != nil {
		return nil, err
	}

	return a.Value(), nil
}

// Write performs a peer write.  Access control, the length bound and the
// attribute's hook are all applied before anything is stored.
func (db *DB) Write(handle uint16, op BleGattOp, data []byte,
	encrypted bool) error {

	a := db.idx[handle]
	if a == nil {
		return pxutil.NewNotFoundError(handle)
	}

	if err := CheckAccess(a, op, encrypted); err != nil {
		return err
	}

	if len(data) > a.MaxLen {
		return pxutil.NewInvalidLengthError(handle, len(data), a.MaxLen)
	}

	if a.hook != nil {
		if err := a.hook(a, op, data); err != nil {
			return err
		}
	}

	a.value = append([]byte{}, data...)
	log.Debugf("attr write: %s op=%s value=%x",
		a.String(), BleGattOpToString(op), data)

	return nil
}

// SetValue updates an attribute on behalf of the server itself.  No access
// control applies, but the length bound does.
func (db *DB) SetValue(handle uint16, data []byte) error {
	a := db.idx[handle]
	if a == nil {
		return pxutil.NewNotFoundError(handle)
	}

	if len(data) > a.MaxLen {
		return pxutil.NewInvalidLengthError(handle, len(data), a.MaxLen)
	}

	a.value = append([]byte{}, data...)
	return nil
}

// Value returns the current value of an attribute without access control.
func (db *DB) Value(handle uint16) ([]byte, error) {
	a := db.idx[handle]
	if a == nil {
		return nil, pxutil.NewNotFoundError(handle)
	}

	return a.Value(), nil
}

// Fprint writes a human-readable listing of the table.
func (db *DB) Fprint(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	fmt.Fprintf(tw, "HANDLE\tTYPE\tNAME\tPROPS\tPERMS\tMAX\tVALUE\n")
	for _, a := range db.attrs {
		fmt.Fprintf(tw, "0x%04x\t%s\t%s\t%s\t%s\t%d\t%x\n",
			a.Handle, a.Type.String(), a.Type.Name(),
			a.Props.String(), a.Perms.String(), a.MaxLen, a.value)
	}

	tw.Flush()
}

// Dump writes the table to the debug log.
func (db *DB) Dump() {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}

	for _, s := range db.svcs {
		log.Debugf("service %s (%s) handles 0x%04x-0x%04x",
			s.Uuid.String(), s.Uuid.Name(), s.StartHandle, s.EndHandle)

		for _, c := range s.Chrs {
			log.Debugf("    chr %s (%s) def=0x%04x val=0x%04x props=%s",
				c.Uuid.String(), c.Uuid.Name(), c.DefHandle, c.ValHandle,
				c.Properties.String())

			for _, d := range c.Dscs {
				log.Debugf("        dsc %s (%s) handle=0x%04x perms=%s",
					d.Uuid.String(), d.Uuid.Name(), d.Handle,
					d.Perms.String())
			}
		}
	}
}
