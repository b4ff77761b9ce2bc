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

// Package notify tracks the connected peer's client characteristic
// configuration and pushes value changes to it.
package notify

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/proxsvr/pxact/attdb"
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

// Sender transmits server-initiated PDUs to the peer.
type Sender interface {
	Notify(connHandle uint16, handle uint16, data []byte) error
	Indicate(connHandle uint16, handle uint16, data []byte) error
}

type subscription struct {
	chr      *attdb.Characteristic
	cccd     *attdb.Descriptor
	notify   bool
	indicate bool

	// An indication has been sent and not yet confirmed.
	inFlight bool

	// The value changed while an indication was in flight.
	stale bool
}

func (s *subscription) bits() uint16 {
	var v uint16
	if s.notify {
		v |= attdb.CCCD_NOTIFY
	}
	if s.indicate {
		v |= attdb.CCCD_INDICATE
	}
	return v
}

type Dispatcher struct {
	db     *attdb.DB
	sender Sender

	open       bool
	connHandle uint16

	// Indexed by characteristic value handle.
	subs map[uint16]*subscription

	// Value handles with a coalesced notification waiting for Flush, in the
	// order they first changed.
	pending    []uint16
	pendingSet map[uint16]struct{}
}

// NewDispatcher installs a write hook on every CCCD in db.
func NewDispatcher(db *attdb.DB, sender Sender) (*Dispatcher, error) {
	d := &Dispatcher{
		db:         db,
		sender:     sender,
		subs:       map[uint16]*subscription{},
		pendingSet: map[uint16]struct{}{},
	}

	for _, svc := range db.Services() {
		for _, chr := range svc.Chrs {
			if dsc := chr.Cccd(); dsc != nil {
				if err := db.HookWrite(dsc.Handle, d.cccdWrite); err != nil {
					return nil, err
				}
			}
		}
	}

	return d, nil
}

// Open creates empty subscription state for a newly connected peer.
func (d *Dispatcher) Open(connHandle uint16) {
	d.open = true
	d.connHandle = connHandle
	d.subs = map[uint16]*subscription{}
	d.clearPending()

	for _, svc := range d.db.Services() {
		for _, chr := range svc.Chrs {
			if dsc := chr.Cccd(); dsc != nil {
				d.subs[chr.ValHandle] = &subscription{
					chr:  chr,
					cccd: dsc,
				}
			}
		}
	}
}

// Close discards all subscription state and resets every stored CCCD value
// to 0x0000.
func (d *Dispatcher) Close() {
	for _, s := range d.subs {
		if err := d.db.SetValue(s.cccd.Handle, []byte{0, 0}); err != nil {
			log.Errorf("failed to reset cccd: %s", err.Error())
		}
	}

	d.open = false
	d.subs = map[uint16]*subscription{}
	d.clearPending()
}

func (d *Dispatcher) clearPending() {
	d.pending = nil
	d.pendingSet = map[uint16]struct{}{}
}

func (d *Dispatcher) cccdWrite(a *attdb.Attr, op BleGattOp,
	data []byte) error {

	if len(data) != 2 {
		return pxutil.NewInvalidLengthError(a.Handle, len(data), 2)
	}

	chr, _ := d.db.ChrForDescriptor(a.Handle)
	if chr == nil {
		return pxutil.NewNotFoundError(a.Handle)
	}

	v := binary.LittleEndian.Uint16(data)
	if v&^(attdb.CCCD_NOTIFY|attdb.CCCD_INDICATE) != 0 ||
		v&^chr.SubscribeType() != 0 {

		return pxutil.NewInvalidValueError(a.Handle,
			pxutil.ATT_ERR_CCCD_IMPROPER,
			fmt.Sprintf("cccd value 0x%04x not supported by %s",
				v, chr.String()))
	}

	s := d.subs[chr.ValHandle]
	if s == nil {
		// Not connected; the value is stored but tracks nothing.
		return nil
	}

	s.notify = v&attdb.CCCD_NOTIFY != 0
	s.indicate = v&attdb.CCCD_INDICATE != 0
	if !s.indicate {
		s.stale = false
	}

	log.Debugf("subscription change: chr=%s notify=%v indicate=%v",
		chr.String(), s.notify, s.indicate)

	return nil
}

// Subscribed reports the CCCD bits the peer has enabled for the
// characteristic with the specified value handle.
func (d *Dispatcher) Subscribed(valHandle uint16) uint16 {
	if s := d.subs[valHandle]; s != nil {
		return s.bits()
	}

	return 0
}

// Subscriptions maps each characteristic value handle to its enabled CCCD
// bits.
func (d *Dispatcher) Subscriptions() map[uint16]uint16 {
	m := make(map[uint16]uint16, len(d.subs))
	for h, s := range d.subs {
		m[h] = s.bits()
	}

	return m
}

// OnValueChanged is called whenever a characteristic's stored value changes.
// Notifications are coalesced until Flush; an indication goes out
// immediately unless one is already in flight for the same characteristic.
func (d *Dispatcher) OnValueChanged(valHandle uint16) error {
	s := d.subs[valHandle]
	if !d.open || s == nil {
		return nil
	}

	if s.notify {
		if _, ok := d.pendingSet[valHandle]; !ok {
			d.pendingSet[valHandle] = struct{}{}
			d.pending = append(d.pending, valHandle)
		}
	}

	if s.indicate {
		if s.inFlight {
			s.stale = true
		} else {
			return d.indicate(s)
		}
	}

	return nil
}

func (d *Dispatcher) indicate(s *subscription) error {
	val, err := d.db.Value(s.chr.ValHandle)
	if err != nil {
		return err
	}

	s.inFlight = true
	s.stale = false

	log.Debugf("indicate: chr=%s value=%x", s.chr.String(), val)
	if err := d.sender.Indicate(d.connHandle, s.chr.ValHandle,
		val); err != nil {

		s.inFlight = false
		return errors.Wrapf(err, "indicate %s", s.chr.String())
	}

	return nil
}

// OnIndicateAck records the peer's confirmation of an indication.  If the
// value changed in the meantime, the latest value is indicated.
func (d *Dispatcher) OnIndicateAck(valHandle uint16) error {
	s := d.subs[valHandle]
	if s == nil || !s.inFlight {
		log.Debugf("unexpected indication confirmation: handle=0x%04x",
			valHandle)
		return nil
	}

	s.inFlight = false
	if s.stale && s.indicate {
		return d.indicate(s)
	}
	s.stale = false

	return nil
}

// Flush sends every pending notification with the characteristic's current
// value.  All pending notifications are attempted; the first failure is
// returned.
func (d *Dispatcher) Flush() error {
	pending := d.pending
	d.clearPending()

	var first error
	for _, h := range pending {
		s := d.subs[h]
		if s == nil || !s.notify {
			continue
		}

		val, err := d.db.Value(h)
		if err == nil {
			log.Debugf("notify: chr=%s value=%x", s.chr.String(), val)
			err = d.sender.Notify(d.connHandle, h, val)
		}
		if err != nil {
			err = errors.Wrapf(err, "notify %s", s.chr.String())
			log.Error(err.Error())
			if first == nil {
				first = err
			}
		}
	}

	return first
}
