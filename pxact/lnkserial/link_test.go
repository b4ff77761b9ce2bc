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

package lnkserial

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"reflect"
	"testing"

	"github.com/JuulLabs-OSS/ble"

	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

func TestFrameChunking(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	lines := EncodeFrame(payload)
	if len(lines) < 3 {
		t.Fatalf("want multi-line frame, got %d lines", len(lines))
	}

	for i, line := range lines {
		if len(line) > 128 {
			t.Fatalf("line %d too long: %d", i, len(line))
		}

		prefix := frameCont
		if i == 0 {
			prefix = frameStart
		}
		if !bytes.HasPrefix(line, prefix) {
			t.Fatalf("line %d has wrong prefix %x", i, line[:2])
		}
	}

	dec := &Decoder{}
	var got []byte
	for i, line := range lines {
		b, err := dec.Feed(bytes.TrimSuffix(line, []byte{'\n'}))
		if err != nil {
			t.Fatalf("Feed: %s", err.Error())
		}
		if i < len(lines)-1 && b != nil {
			t.Fatalf("frame completed early at line %d", i)
		}
		got = b
	}

	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestFrameNoiseAndCrc(t *testing.T) {
	dec := &Decoder{}

	// Console output between frames is ignored.
	for _, noise := range []string{"", "x", "boot: ok", "\r\r"} {
		b, err := dec.Feed([]byte(noise))
		if b != nil || err != nil {
			t.Fatalf("noise \"%s\" not ignored", noise)
		}
	}

	lines := EncodeFrame([]byte{1, 2, 3})
	if len(lines) != 1 {
		t.Fatalf("want single line, got %d", len(lines))
	}

	// Corrupt the payload without breaking the base64.
	line := bytes.TrimSuffix(lines[0], []byte{'\n'})
	bad := append([]byte{}, line...)
	if bad[5] == 'A' {
		bad[5] = 'B'
	} else {
		bad[5] = 'A'
	}

	if _, err := dec.Feed(bad); !pxutil.IsXport(err) {
		t.Fatalf("want crc error, got %v", err)
	}

	// The decoder recovers for the next frame.
	b, err := dec.Feed(append([]byte("\r"), line...))
	if err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("decoder did not recover: %x %v", b, err)
	}
}

type nopCloser struct {
	*bytes.Reader
	out *bytes.Buffer
}

func (c *nopCloser) Write(b []byte) (int, error) {
	return c.out.Write(b)
}

func (c *nopCloser) Close() error {
	return nil
}

type recHandler struct {
	calls []string
}

func (h *recHandler) add(format string, args ...interface{}) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *recHandler) Connect(desc BleConnDesc) error {
	h.add("connect %d %v", desc.ConnHandle, desc.Encrypted)
	return nil
}

func (h *recHandler) Disconnect(conn uint16, r BleDisconnectReason) error {
	h.add("disconnect %d %s", conn, BleDisconnectReasonToString(r))
	return nil
}

func (h *recHandler) Write(conn uint16, handle uint16, op BleGattOp,
	data []byte) error {

	h.add("write %d 0x%04x %s %x", conn, handle, BleGattOpToString(op), data)
	return nil
}

func (h *recHandler) Read(conn uint16, handle uint16) ([]byte, error) {
	h.add("read %d 0x%04x", conn, handle)
	if handle == 0x0099 {
		return nil, pxutil.NewNotFoundError(handle)
	}
	return []byte("LE Prox"), nil
}

func (h *recHandler) RssiUpdate(conn uint16, rssi int8) error {
	h.add("rssi %d %d", conn, rssi)
	return nil
}

func (h *recHandler) IndicateAck(conn uint16, handle uint16) error {
	h.add("ack %d 0x%04x", conn, handle)
	return nil
}

func (h *recHandler) EncryptChange(conn uint16, on bool) error {
	h.add("enc %d %v", conn, on)
	return nil
}

func (h *recHandler) ButtonPress() error {
	h.add("button")
	return nil
}

func (h *recHandler) AlertDone() error {
	h.add("alert_done")
	return nil
}

func encodeStream(t *testing.T, msgs ...*Msg) []byte {
	var buf bytes.Buffer

	for _, m := range msgs {
		b, err := EncodeMsg(m)
		if err != nil {
			t.Fatalf("EncodeMsg: %s", err.Error())
		}
		for _, line := range EncodeFrame(b) {
			buf.Write(line)
		}
		buf.WriteString("console chatter\n")
	}

	return buf.Bytes()
}

func decodeStream(t *testing.T, b []byte) []*Msg {
	var msgs []*Msg

	dec := &Decoder{}
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		p, err := dec.Feed(scanner.Bytes())
		if err != nil {
			t.Fatalf("Feed: %s", err.Error())
		}
		if p == nil {
			continue
		}

		m, err := DecodeMsg(p)
		if err != nil {
			t.Fatalf("DecodeMsg: %s", err.Error())
		}
		msgs = append(msgs, m)
	}

	return msgs
}

func TestServeDispatch(t *testing.T) {
	in := encodeStream(t,
		&Msg{Op: MSG_OP_CONNECT, Conn: 3},
		&Msg{Op: MSG_OP_WRITE, Conn: 3, Handle: 0x002d, WriteOp: "cmd",
			Data: []byte{2}},
		&Msg{Op: MSG_OP_READ, Conn: 3, Handle: 0x0016},
		&Msg{Op: MSG_OP_READ, Conn: 3, Handle: 0x0099},
		&Msg{Op: MSG_OP_RSSI, Conn: 3, Rssi: -58},
		&Msg{Op: MSG_OP_INDICATE_ACK, Conn: 3, Handle: 0x0003},
		&Msg{Op: MSG_OP_ENCRYPT_CHANGE, Conn: 3, On: true},
		&Msg{Op: "bogus"},
		&Msg{Op: MSG_OP_DISCONNECT, Conn: 3, Reason: "link_loss"},
		&Msg{Op: MSG_OP_BUTTON},
		&Msg{Op: MSG_OP_ALERT_DONE},
	)

	out := &bytes.Buffer{}
	rw := &nopCloser{bytes.NewReader(in), out}
	cfg := NewXportCfg()
	cfg.ReadTimeout = 0
	cfg.ChunkDelay = 0

	l := NewLinkRW(rw, cfg)
	h := &recHandler{}
	if err := l.Serve(h); err != nil {
		t.Fatalf("Serve: %s", err.Error())
	}

	exp := []string{
		"connect 3 false",
		"write 3 0x002d write_cmd 02",
		"read 3 0x0016",
		"read 3 0x0099",
		"rssi 3 -58",
		"ack 3 0x0003",
		"enc 3 true",
		"disconnect 3 link_loss",
		"button",
		"alert_done",
	}
	if !reflect.DeepEqual(h.calls, exp) {
		t.Fatalf("handler calls:\nwant %v\ngot  %v", exp, h.calls)
	}

	rsps := decodeStream(t, out.Bytes())
	if len(rsps) != 2 {
		t.Fatalf("want 2 read responses, got %d", len(rsps))
	}
	if rsps[0].Op != MSG_OP_READ_RSP || string(rsps[0].Data) != "LE Prox" ||
		rsps[0].Status != 0 {

		t.Fatalf("bad read response: %s", rsps[0].String())
	}
	if rsps[1].Status != uint8(ble.ErrInvalidHandle) {
		t.Fatalf("want invalid handle status, got 0x%02x", rsps[1].Status)
	}
}

func TestOutboundMessages(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := NewXportCfg()
	cfg.ChunkDelay = 0
	l := NewLinkRW(&nopCloser{bytes.NewReader(nil), out}, cfg)

	l.Notify(1, 0x0033, []byte{99})
	l.Indicate(1, 0x0003, []byte{1, 0, 0xff, 0xff})
	l.RejectWrite(1, 0x002d, pxutil.ATT_ERR_OUT_OF_RANGE)
	l.SoundAlert(BLE_ALERT_LEVEL_HIGH)
	l.StopAlert()

	msgs := decodeStream(t, out.Bytes())
	if len(msgs) != 5 {
		t.Fatalf("want 5 messages, got %d", len(msgs))
	}

	ops := []MsgOp{}
	for _, m := range msgs {
		ops = append(ops, m.Op)
	}
	expOps := []MsgOp{MSG_OP_NOTIFY, MSG_OP_INDICATE, MSG_OP_REJECT_WRITE,
		MSG_OP_SOUND_ALERT, MSG_OP_STOP_ALERT}
	if !reflect.DeepEqual(ops, expOps) {
		t.Fatalf("want ops %v, got %v", expOps, ops)
	}

	if msgs[2].Status != 0xff || msgs[2].Handle != 0x002d {
		t.Fatalf("bad rejection: %s", msgs[2].String())
	}
	if msgs[3].Level != uint8(BLE_ALERT_LEVEL_HIGH) {
		t.Fatalf("bad alert level %d", msgs[3].Level)
	}
}

// stallReader replays a scripted sequence of reads, the way a serial port
// with a read timeout returns (0, io.EOF) when the line goes quiet.
type stallReader struct {
	reads []stallRead
	out   bytes.Buffer

	// Called once the script runs out.
	onDrain func()
}

type stallRead struct {
	b   []byte
	err error
}

func (r *stallReader) Read(p []byte) (int, error) {
	if len(r.reads) == 0 {
		r.onDrain()
		return 0, io.EOF
	}

	rd := r.reads[0]
	r.reads = r.reads[1:]
	return copy(p, rd.b), rd.err
}

func (r *stallReader) Write(b []byte) (int, error) {
	return r.out.Write(b)
}

func (r *stallReader) Close() error {
	return nil
}

func TestServeReadTimeoutMidLine(t *testing.T) {
	in := encodeStream(t,
		&Msg{Op: MSG_OP_CONNECT, Conn: 1},
		&Msg{Op: MSG_OP_DISCONNECT, Conn: 1, Reason: "link_loss"},
	)

	// Cut the stream inside the first frame line and again inside the
	// second, with a quiet period after each piece.
	cuts := []int{5, len(in) / 2, len(in) - 3, len(in)}
	rdr := &stallReader{}
	prev := 0
	for _, c := range cuts {
		rdr.reads = append(rdr.reads,
			stallRead{b: in[prev:c]},
			stallRead{err: io.EOF})
		prev = c
	}

	cfg := NewXportCfg()
	cfg.ChunkDelay = 0

	l := NewLinkRW(rdr, cfg)
	rdr.onDrain = func() { l.Close() }

	h := &recHandler{}
	if err := l.Serve(h); err != nil {
		t.Fatalf("Serve: %s", err.Error())
	}

	exp := []string{
		"connect 1 false",
		"disconnect 1 link_loss",
	}
	if !reflect.DeepEqual(h.calls, exp) {
		t.Fatalf("handler calls:\nwant %v\ngot  %v", exp, h.calls)
	}
}

func TestSendBoardCfg(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := NewXportCfg()
	cfg.Baud = 921600
	l := NewLinkRW(&nopCloser{bytes.NewReader(nil), out}, cfg)

	pins := BoardPins{
		WriteProtect: -1,
		Button:       0,
		Led:          14,
		Battery:      2,
		Buzzer:       28,
	}
	if err := l.SendBoardCfg(pins); err != nil {
		t.Fatalf("SendBoardCfg: %s", err.Error())
	}

	msgs := decodeStream(t, out.Bytes())
	if len(msgs) != 1 {
		t.Fatalf("want 1 message, got %d", len(msgs))
	}

	m := msgs[0]
	if m.Op != MSG_OP_BOARD_CFG || m.Baud != 921600 {
		t.Fatalf("bad board config message: %s baud=%d", m.String(), m.Baud)
	}
	if m.Pins == nil || *m.Pins != pins {
		t.Fatalf("want pins %+v, got %+v", pins, m.Pins)
	}
}
