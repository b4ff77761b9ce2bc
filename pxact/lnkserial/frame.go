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
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/joaojeronimo/go-crc16"

	"mynewt.apache.org/newt/util"

	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

// Line prefixes: first chunk of a frame, continuation chunk.
var (
	frameStart = []byte{6, 9}
	frameCont  = []byte{4, 20}
)

// Base64 characters per line.  A multiple of four that keeps each line,
// prefix and newline included, within 128 bytes.
const chunkLen = 124

type packet struct {
	expectedLen uint16
	buffer      *bytes.Buffer
}

func newPacket(expectedLen uint16) *packet {
	return &packet{
		expectedLen: expectedLen,
		buffer:      bytes.NewBuffer([]byte{}),
	}
}

func (pkt *packet) addBytes(b []byte) bool {
	pkt.buffer.Write(b)
	return pkt.buffer.Len() >= int(pkt.expectedLen)
}

// EncodeFrame wraps a message for the wire: big-endian length, payload,
// big-endian crc16, base64 encoded and split into prefixed lines.
func EncodeFrame(payload []byte) [][]byte {
	crc := make([]byte, 2)
	binary.BigEndian.PutUint16(crc, crc16.Crc16(payload))

	body := append(append([]byte{}, payload...), crc...)

	pktData := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(pktData, uint16(len(body)))
	pktData = append(pktData, body...)

	b64 := make([]byte, base64.StdEncoding.EncodedLen(len(pktData)))
	base64.StdEncoding.Encode(b64, pktData)

	var lines [][]byte
	for written := 0; written < len(b64); {
		var line []byte
		if written == 0 {
			line = append(line, frameStart...)
		} else {
			line = append(line, frameCont...)
		}

		n := util.IntMin(chunkLen, len(b64)-written)
		line = append(line, b64[written:written+n]...)
		line = append(line, '\n')

		lines = append(lines, line)
		written += n
	}

	return lines
}

// Decoder reassembles frames from received lines.
type Decoder struct {
	pkt *packet
}

// Feed consumes one line (without its newline).  It returns a complete
// payload once the final chunk of a frame arrives; otherwise nil.  Lines
// that are not frame chunks are console noise and are ignored.
func (d *Decoder) Feed(line []byte) ([]byte, error) {
	line = bytes.TrimLeft(line, "\r")
	line = bytes.TrimRight(line, "\r")

	if len(line) < 2 {
		return nil, nil
	}

	start := bytes.HasPrefix(line, frameStart)
	if !start && !bytes.HasPrefix(line, frameCont) {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(string(line[2:]))
	if err != nil {
		d.pkt = nil
		return nil, pxutil.NewXportError(fmt.Sprintf(
			"Couldn't decode base64 string: %s\nPacket hex dump:\n%s",
			line[2:], hex.Dump(line)))
	}

	if start {
		if len(data) < 2 {
			return nil, nil
		}

		d.pkt = newPacket(binary.BigEndian.Uint16(data[0:2]))
		data = data[2:]
	}

	if d.pkt == nil {
		return nil, nil
	}

	if !d.pkt.addBytes(data) {
		return nil, nil
	}

	b := d.pkt.buffer.Bytes()
	d.pkt = nil

	if len(b) < 2 || crc16.Crc16(b) != 0 {
		return nil, pxutil.NewXportError("CRC error")
	}

	return b[:len(b)-2], nil
}
