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
	"fmt"
	"time"

	"github.com/fatih/structs"
	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/proxsvr/pxact/gatts"
)

const (
	PROX_RES_URI  = "prox"
	BAT_RES_URI   = "bat"
	SUBS_RES_URI  = "prox/subs"
	ACK_RES_URI   = "prox/ack"
	QUERY_TIMEOUT = 2 * time.Second
)

// ProxSource is the view of the GATT server the diagnostics resources need.
type ProxSource interface {
	Snapshot(ctx context.Context) (gatts.Snapshot, error)
	ButtonPress() error
}

func snapshot(src ProxSource) (gatts.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), QUERY_TIMEOUT)
	defer cancel()

	return src.Snapshot(ctx)
}

// AddProxResources registers the proximity reporter's diagnostics:
//
//	prox      (GET) state machine and session
//	bat       (GET) battery record
//	prox/subs (GET) enabled notifications and indications
//	prox/ack  (PUT) acknowledge a sounding alert, as the button would
func AddProxResources(s *Server, src ProxSource) error {
	res := []Resource{
		NewCborResource(PROX_RES_URI,
			func(uri string) (coap.COAPCode, map[string]interface{}) {
				snap, err := snapshot(src)
				if err != nil {
					log.Debugf("%s: %s", uri, err.Error())
					return coap.InternalServerError, nil
				}

				m := structs.Map(snap.Prox)
				m["state"] = snap.Prox.State.String()
				m["policy"] = snap.Prox.Policy.String()
				m["link_loss_level"] = snap.Prox.LinkLossLevel.String()
				m["immediate_level"] = snap.Prox.ImmediateLevel.String()
				return coap.Content, m
			}, nil),

		NewCborResource(BAT_RES_URI,
			func(uri string) (coap.COAPCode, map[string]interface{}) {
				snap, err := snapshot(src)
				if err != nil {
					log.Debugf("%s: %s", uri, err.Error())
					return coap.InternalServerError, nil
				}

				m := structs.Map(snap.Battery)
				m["service_required"] = snap.Battery.ServiceRequired.String()
				return coap.Content, m
			}, nil),

		NewCborResource(SUBS_RES_URI,
			func(uri string) (coap.COAPCode, map[string]interface{}) {
				snap, err := snapshot(src)
				if err != nil {
					log.Debugf("%s: %s", uri, err.Error())
					return coap.InternalServerError, nil
				}

				m := map[string]interface{}{}
				for h, bits := range snap.Subscriptions {
					m[fmt.Sprintf("0x%04x", h)] = bits
				}
				return coap.Content, m
			}, nil),

		NewCborResource(ACK_RES_URI, nil,
			func(uri string, val map[string]interface{}) coap.COAPCode {
				if err := src.ButtonPress(); err != nil {
					log.Debugf("%s: %s", uri, err.Error())
					return coap.InternalServerError
				}
				return coap.Changed
			}),
	}

	for _, r := range res {
		if err := s.AddResource(r); err != nil {
			return err
		}
	}

	return nil
}
