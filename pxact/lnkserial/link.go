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

// Package lnkserial bridges the GATT server to a BLE controller over a
// UART.  Events from the controller and PDUs to it are CBOR messages carried
// in base64 line frames.
package lnkserial

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JuulLabs-OSS/ble"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

// Handler receives decoded controller events.
type Handler interface {
	Connect(desc BleConnDesc) error
	Disconnect(connHandle uint16, reason BleDisconnectReason) error
	Write(connHandle uint16, handle uint16, op BleGattOp, data []byte) error
	Read(connHandle uint16, handle uint16) ([]byte, error)
	RssiUpdate(connHandle uint16, rssi int8) error
	IndicateAck(connHandle uint16, handle uint16) error
	EncryptChange(connHandle uint16, on bool) error
	ButtonPress() error
	AlertDone() error
}

type XportCfg struct {
	DevPath     string
	Baud        int
	ReadTimeout time.Duration

	// Pause between chunks of a multi-line frame; slow targets have small
	// receive buffers.
	ChunkDelay time.Duration
}

func NewXportCfg() *XportCfg {
	return &XportCfg{
		Baud:        115200,
		ReadTimeout: 10 * time.Second,
		ChunkDelay:  20 * time.Millisecond,
	}
}

type Link struct {
	cfg *XportCfg
	rw  io.ReadWriteCloser

	txMtx sync.Mutex

	mtx     sync.Mutex
	closing bool
}

func NewLink(cfg *XportCfg) *Link {
	return &Link{
		cfg: cfg,
	}
}

// NewLinkRW creates a link over an already-open stream.
func NewLinkRW(rw io.ReadWriteCloser, cfg *XportCfg) *Link {
	return &Link{
		cfg: cfg,
		rw:  rw,
	}
}

// Open opens the serial port named in the configuration.
func (l *Link) Open() error {
	c := &serial.Config{
		Name:        l.cfg.DevPath,
		Baud:        l.cfg.Baud,
		ReadTimeout: l.cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(c)
	if err != nil {
		return errors.Wrapf(err, "open %s", l.cfg.DevPath)
	}

	if err := port.Flush(); err != nil {
		port.Close()
		return err
	}

	l.rw = port
	return nil
}

func (l *Link) Close() error {
	l.mtx.Lock()
	l.closing = true
	l.mtx.Unlock()

	if l.rw == nil {
		return nil
	}
	return l.rw.Close()
}

func (l *Link) isClosing() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.closing
}

func (l *Link) txRaw(b []byte) error {
	pxutil.LinkLog.Debugf("Tx serial\n%s", hex.Dump(b))

	_, err := l.rw.Write(b)
	return err
}

func (l *Link) tx(m *Msg) error {
	b, err := EncodeMsg(m)
	if err != nil {
		return err
	}

	l.txMtx.Lock()
	defer l.txMtx.Unlock()

	if l.rw == nil {
		return pxutil.NewXportError("link not open")
	}

	pxutil.LinkLog.Debugf("Tx link msg: %s", m.String())
	for i, line := range EncodeFrame(b) {
		if i > 0 && l.cfg.ChunkDelay > 0 {
			time.Sleep(l.cfg.ChunkDelay)
		}
		if err := l.txRaw(line); err != nil {
			return pxutil.NewXportError(err.Error())
		}
	}

	return nil
}

func (l *Link) Notify(connHandle uint16, handle uint16, data []byte) error {
	return l.tx(&Msg{
		Op:     MSG_OP_NOTIFY,
		Conn:   connHandle,
		Handle: handle,
		Data:   data,
	})
}

func (l *Link) Indicate(connHandle uint16, handle uint16, data []byte) error {
	return l.tx(&Msg{
		Op:     MSG_OP_INDICATE,
		Conn:   connHandle,
		Handle: handle,
		Data:   data,
	})
}

func (l *Link) RejectWrite(connHandle uint16, handle uint16,
	reason ble.ATTError) error {

	return l.tx(&Msg{
		Op:     MSG_OP_REJECT_WRITE,
		Conn:   connHandle,
		Handle: handle,
		Status: uint8(reason),
	})
}

func (l *Link) SoundAlert(level BleAlertLevel) {
	if err := l.tx(&Msg{
		Op:    MSG_OP_SOUND_ALERT,
		Level: uint8(level),
	}); err != nil {
		log.Errorf("failed to sound alert: %s", err.Error())
	}
}

func (l *Link) StopAlert() {
	if err := l.tx(&Msg{Op: MSG_OP_STOP_ALERT}); err != nil {
		log.Errorf("failed to stop alert: %s", err.Error())
	}
}

// SendBoardCfg hands the board's pin assignments and line rate to the
// controller.  Sent once after the port is opened.
func (l *Link) SendBoardCfg(pins BoardPins) error {
	return l.tx(&Msg{
		Op:   MSG_OP_BOARD_CFG,
		Pins: &pins,
		Baud: l.cfg.Baud,
	})
}

func parseWriteOp(s string) (BleGattOp, error) {
	switch s {
	case "req", "":
		return BLE_GATT_ACCESS_OP_WRITE_REQ, nil
	case "cmd":
		return BLE_GATT_ACCESS_OP_WRITE_CMD, nil
	default:
		return 0, fmt.Errorf("invalid write op \"%s\"", s)
	}
}

// dispatch hands one decoded message to h.  Protocol rejections are
// reported by the server itself; only reads need an explicit response here.
func (l *Link) dispatch(h Handler, m *Msg) error {
	pxutil.LinkLog.Debugf("Rx link msg: %s", m.String())

	switch m.Op {
	case MSG_OP_CONNECT:
		return h.Connect(BleConnDesc{ConnHandle: m.Conn, Encrypted: m.On})

	case MSG_OP_DISCONNECT:
		reason, err := BleDisconnectReasonFromString(m.Reason)
		if err != nil {
			return err
		}
		return h.Disconnect(m.Conn, reason)

	case MSG_OP_WRITE:
		op, err := parseWriteOp(m.WriteOp)
		if err != nil {
			return err
		}
		return h.Write(m.Conn, m.Handle, op, m.Data)

	case MSG_OP_READ:
		val, err := h.Read(m.Conn, m.Handle)
		return l.tx(&Msg{
			Op:     MSG_OP_READ_RSP,
			Conn:   m.Conn,
			Handle: m.Handle,
			Data:   val,
			Status: uint8(pxutil.AttStatus(err)),
		})

	case MSG_OP_RSSI:
		return h.RssiUpdate(m.Conn, m.Rssi)

	case MSG_OP_INDICATE_ACK:
		return h.IndicateAck(m.Conn, m.Handle)

	case MSG_OP_ENCRYPT_CHANGE:
		return h.EncryptChange(m.Conn, m.On)

	case MSG_OP_BUTTON:
		return h.ButtonPress()

	case MSG_OP_ALERT_DONE:
		return h.AlertDone()

	default:
		return fmt.Errorf("unexpected link message op \"%s\"", m.Op)
	}
}

func (l *Link) rxLine(h Handler, dec *Decoder, line []byte) {
	pxutil.LinkLog.Debugf("Rx serial:\n%s", hex.Dump(line))

	b, err := dec.Feed(line)
	if err != nil {
		log.Debugf("dropping frame: %s", err.Error())
		return
	}
	if b == nil {
		return
	}

	m, err := DecodeMsg(b)
	if err != nil {
		log.Debugf("dropping frame: %s", err.Error())
		return
	}

	if err := l.dispatch(h, m); err != nil {
		log.Debugf("link event %s failed: %s", m.Op, err.Error())
	}
}

// Serve reads controller events until the link is closed or the stream
// ends.  Malformed frames and rejected events are logged and skipped.
func (l *Link) Serve(h Handler) error {
	if l.rw == nil {
		return pxutil.NewXportError("link not open")
	}

	dec := &Decoder{}
	rd := bufio.NewReader(l.rw)

	// Bytes of a line cut short by a read timeout.
	var partial []byte

	for {
		chunk, err := rd.ReadBytes('\n')
		partial = append(partial, chunk...)

		if err == nil {
			line := bytes.TrimSuffix(partial, []byte{'\n'})
			line = bytes.TrimSuffix(line, []byte{'\r'})
			l.rxLine(h, dec, line)
			partial = partial[:0]
			continue
		}

		if l.isClosing() {
			return nil
		}

		if err != io.EOF {
			return pxutil.NewXportError(err.Error())
		}

		if l.cfg.ReadTimeout == 0 {
			// Plain stream hit EOF.
			if len(partial) > 0 {
				l.rxLine(h, dec, bytes.TrimSuffix(partial, []byte{'\r'}))
			}
			return nil
		}

		// A serial read timeout looks like EOF; keep listening and keep
		// the partial line.
	}
}
