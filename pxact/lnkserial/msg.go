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
	"fmt"

	"github.com/ugorji/go/codec"
)

type MsgOp string

// From the controller.
const (
	MSG_OP_CONNECT        MsgOp = "connect"
	MSG_OP_DISCONNECT     MsgOp = "disconnect"
	MSG_OP_WRITE          MsgOp = "write"
	MSG_OP_READ           MsgOp = "read"
	MSG_OP_RSSI           MsgOp = "rssi"
	MSG_OP_INDICATE_ACK   MsgOp = "indicate_ack"
	MSG_OP_ENCRYPT_CHANGE MsgOp = "encrypt_change"
	MSG_OP_BUTTON         MsgOp = "button"
	MSG_OP_ALERT_DONE     MsgOp = "alert_done"
)

// To the controller.
const (
	MSG_OP_NOTIFY       MsgOp = "notify"
	MSG_OP_INDICATE     MsgOp = "indicate"
	MSG_OP_REJECT_WRITE MsgOp = "reject_write"
	MSG_OP_READ_RSP     MsgOp = "read_rsp"
	MSG_OP_SOUND_ALERT  MsgOp = "sound_alert"
	MSG_OP_STOP_ALERT   MsgOp = "stop_alert"
	MSG_OP_BOARD_CFG    MsgOp = "board_cfg"
)

// BoardPins carries the GPIO assignments the controller firmware drives
// the key fob peripherals with.  -1 marks a role the board does not wire.
type BoardPins struct {
	WriteProtect int `codec:"wp"`
	Button       int `codec:"button"`
	Led          int `codec:"led"`
	Battery      int `codec:"battery"`
	Buzzer       int `codec:"buzzer"`
}

// Msg is one link-layer event or command.  Fields not relevant to Op are
// omitted on the wire.
type Msg struct {
	Op     MsgOp  `codec:"op"`
	Conn   uint16 `codec:"conn,omitempty"`
	Handle uint16 `codec:"handle,omitempty"`
	Data   []byte `codec:"data,omitempty"`

	// "req" or "cmd".
	WriteOp string `codec:"wop,omitempty"`

	// "graceful" or "link_loss".
	Reason string `codec:"reason,omitempty"`

	Rssi   int8  `codec:"rssi,omitempty"`
	On     bool  `codec:"on,omitempty"`
	Level  uint8 `codec:"level,omitempty"`
	Status uint8 `codec:"status,omitempty"`

	Pins *BoardPins `codec:"pins,omitempty"`
	Baud int        `codec:"baud,omitempty"`
}

func (m *Msg) String() string {
	return fmt.Sprintf("op=%s conn=%d handle=0x%04x data=%x",
		m.Op, m.Conn, m.Handle, m.Data)
}

func EncodeMsg(m *Msg) ([]byte, error) {
	var b []byte

	enc := codec.NewEncoderBytes(&b, new(codec.CborHandle))
	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b, nil
}

func DecodeMsg(b []byte) (*Msg, error) {
	m := &Msg{}

	dec := codec.NewDecoderBytes(b, new(codec.CborHandle))
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid link message: %s", err.Error())
	}

	if m.Op == "" {
		return nil, fmt.Errorf("link message missing op")
	}

	return m, nil
}
