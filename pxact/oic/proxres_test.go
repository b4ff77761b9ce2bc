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

package oic

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/runtimeco/go-coap"

	"mynewt.apache.org/proxsvr/pxact/battery"
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/gatts"
	"mynewt.apache.org/proxsvr/pxact/prox"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

type fakeSource struct {
	snap    gatts.Snapshot
	presses int
}

func (f *fakeSource) Snapshot(ctx context.Context) (gatts.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeSource) ButtonPress() error {
	f.presses++
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeSource) {
	src := &fakeSource{
		snap: gatts.Snapshot{
			Prox: prox.Snapshot{
				State:         prox.PROX_STATE_ALERT_HIGH,
				Policy:        prox.ALERT_POLICY_EDGE,
				LinkLossLevel: BLE_ALERT_LEVEL_HIGH,
			},
			Battery: battery.Record{
				Millivolts:      2990,
				LevelPercent:    99,
				PowerState:      battery.POWER_STATE_DFLT,
				ServiceRequired: battery.SERVICE_REQUIRED_NO,
			},
			Subscriptions: map[uint16]uint16{0x0033: 1},
		},
	}

	s := NewServer()
	if err := AddProxResources(s, src); err != nil {
		t.Fatalf("AddProxResources: %s", err.Error())
	}

	return s, src
}

// newRequest builds a confirmable datagram request.
func newRequest(code coap.COAPCode, uri string, token []byte) coap.Message {
	m := coap.NewDgramMessage(coap.MessageParams{
		Type:      coap.Confirmable,
		Code:      code,
		MessageID: NextMessageId(),
		Token:     token,
	})
	m.SetPathString(uri)

	return m
}

func request(t *testing.T, s *Server, code coap.COAPCode,
	uri string) coap.Message {

	req := newRequest(code, uri, []byte{1, 2})
	b, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %s", err.Error())
	}

	rsp, err := s.Rx(b)
	if err != nil {
		t.Fatalf("Rx: %s", err.Error())
	}
	if rsp.Type() != coap.Acknowledgement {
		t.Fatalf("want ack, got %s", rsp.Type().String())
	}
	if rsp.MessageID() != req.MessageID() {
		t.Fatalf("ack does not echo message id")
	}

	return rsp
}

func TestGetProx(t *testing.T) {
	s, _ := newTestServer(t)

	rsp := request(t, s, coap.GET, PROX_RES_URI)
	if rsp.Code() != coap.Content {
		t.Fatalf("want content, got %s", rsp.Code().String())
	}

	m, err := pxutil.DecodeCborMap(rsp.Payload())
	if err != nil {
		t.Fatalf("DecodeCborMap: %s", err.Error())
	}
	if m["state"] != "alert_high" || m["link_loss_level"] != "high" {
		t.Fatalf("unexpected payload: %v", m)
	}
}

func TestGetBattery(t *testing.T) {
	s, _ := newTestServer(t)

	rsp := request(t, s, coap.GET, BAT_RES_URI)
	m, err := pxutil.DecodeCborMap(rsp.Payload())
	if err != nil {
		t.Fatalf("DecodeCborMap: %s", err.Error())
	}

	if m["service_required"] != "no" {
		t.Fatalf("unexpected service_required: %v", m["service_required"])
	}
	if lvl, ok := m["level"].(uint64); !ok || lvl != 99 {
		t.Fatalf("unexpected level: %#v", m["level"])
	}
}

func TestAckAndErrors(t *testing.T) {
	s, src := newTestServer(t)

	rsp := request(t, s, coap.PUT, ACK_RES_URI)
	if rsp.Code() != coap.Changed || src.presses != 1 {
		t.Fatalf("ack not delivered; code=%s presses=%d",
			rsp.Code().String(), src.presses)
	}

	if c := request(t, s, coap.GET, ACK_RES_URI).Code(); c != coap.MethodNotAllowed {
		t.Fatalf("GET on ack: want method not allowed, got %s", c.String())
	}
	if c := request(t, s, coap.PUT, PROX_RES_URI).Code(); c != coap.MethodNotAllowed {
		t.Fatalf("PUT on prox: want method not allowed, got %s", c.String())
	}
	if c := request(t, s, coap.GET, "nope").Code(); c != coap.NotFound {
		t.Fatalf("want not found, got %s", c.String())
	}

	if err := s.AddResource(Resource{Uri: PROX_RES_URI}); err == nil {
		t.Fatalf("duplicate resource accepted")
	}
}

func TestListen(t *testing.T) {
	s, _ := newTestServer(t)

	addr, err := s.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %s", err.Error())
	}
	defer s.Close()

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %s", err.Error())
	}
	defer conn.Close()

	req := newRequest(coap.GET, SUBS_RES_URI, []byte{7})
	b, _ := Encode(req)
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, MAX_PACKET_SIZE)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %s", err.Error())
	}

	rsp, err := coap.ParseDgramMessage(buf[:n])
	if err != nil {
		t.Fatalf("ParseDgramMessage: %s", err.Error())
	}
	m, err := pxutil.DecodeCborMap(rsp.Payload())
	if err != nil {
		t.Fatalf("DecodeCborMap: %s", err.Error())
	}
	if _, ok := m["0x0033"]; !ok {
		t.Fatalf("subscription missing: %v", m)
	}
}
