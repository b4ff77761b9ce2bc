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
	"fmt"
	"net"
	"sync"

	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"
)

const MAX_PACKET_SIZE = 2048

type Server struct {
	rm ResMgr

	conn *net.UDPConn
	wg   sync.WaitGroup
}

func NewServer() *Server {
	return &Server{
		rm: NewResMgr(),
	}
}

func (s *Server) AddResource(r Resource) error {
	return s.rm.Add(r)
}

// Rx processes one request datagram.
//
// @return                      Response to send back, if any.
func (s *Server) Rx(data []byte) (coap.Message, error) {
	m, err := coap.ParseDgramMessage(data)
	if err != nil {
		return nil, fmt.Errorf("CoAP parse failure: %s", err.Error())
	}

	var typ coap.COAPType
	switch m.Type() {
	case coap.Confirmable:
		typ = coap.Acknowledgement

	case coap.NonConfirmable:
		typ = coap.NonConfirmable

	default:
		return nil, fmt.Errorf("Don't know how to handle CoAP message with "+
			"type=%d (%s)", m.Type(), m.Type().String())
	}

	code, payload := s.rm.Access(m)

	p := coap.MessageParams{
		Type:      typ,
		Code:      code,
		MessageID: m.MessageID(),
		Token:     m.Token(),
		Payload:   payload,
	}
	if typ == coap.NonConfirmable {
		p.MessageID = NextMessageId()
	}

	return coap.NewDgramMessage(p), nil
}

// Listen binds the server to a UDP address and serves requests in the
// background until Close.
func (s *Server) Listen(addrString string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", addrString)
	if err != nil {
		return nil, fmt.Errorf("Failure resolving CoAP listen address: %s",
			err.Error())
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("Failed to listen for CoAP requests: %s",
			err.Error())
	}
	s.conn = conn

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		data := make([]byte, MAX_PACKET_SIZE)
		for {
			nr, srcAddr, err := conn.ReadFromUDP(data)
			if err != nil {
				// Connection closed or read error.
				return
			}

			log.Debugf("Received CoAP request from %v %d", srcAddr, nr)

			rsp, err := s.Rx(data[0:nr])
			if err != nil {
				log.Debug(err.Error())
				continue
			}

			b, err := Encode(rsp)
			if err != nil {
				log.Error(err.Error())
				continue
			}

			if _, err := conn.WriteToUDP(b, srcAddr); err != nil {
				log.Debugf("Failed to send CoAP response to %v: %s",
					srcAddr, err.Error())
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr), nil
}

func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.wg.Wait()
	s.conn = nil

	return err
}
