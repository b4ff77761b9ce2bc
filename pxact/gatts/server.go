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

// Package gatts is the proximity reporter's GATT server.  It owns the
// attribute database and funnels every inbound event through a single
// queue, so handlers never run concurrently.
package gatts

import (
	"context"
	"fmt"

	"github.com/JuulLabs-OSS/ble"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/proxsvr/pxact/attdb"
	"mynewt.apache.org/proxsvr/pxact/battery"
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/notify"
	"mynewt.apache.org/proxsvr/pxact/prox"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
	"mynewt.apache.org/proxsvr/pxact/task"
)

// LinkLayer carries server-initiated PDUs to the peer.
type LinkLayer interface {
	notify.Sender
	RejectWrite(connHandle uint16, handle uint16, reason ble.ATTError) error
}

type ServerConfig struct {
	Prox    prox.Config
	Battery battery.Config

	// Number of events that may be pending before producers block.
	QueueDepth int

	// Attribute table; nil selects ProximityTable().
	Decls []attdb.AttrDecl
}

func NewServerConfig() ServerConfig {
	return ServerConfig{
		Prox:       prox.NewConfig(),
		Battery:    battery.NewConfig(),
		QueueDepth: 32,
	}
}

type Server struct {
	db   *attdb.DB
	disp *notify.Dispatcher
	fsm  *prox.Fsm
	bat  *battery.Monitor
	link LinkLayer
	q    *task.Queue
	cfg  ServerConfig

	// nil while disconnected.
	conn *BleConnDesc

	llHandle  uint16
	immHandle uint16
}

func valHandle(db *attdb.DB, svc BleUuid16, chr BleUuid16) uint16 {
	c := db.FindChr(Uuid16(svc), Uuid16(chr))
	if c == nil {
		return 0
	}
	return c.ValHandle
}

// NewServer validates the attribute table and wires every component
// together.  A malformed table is reported here, before any event is
// accepted.
func NewServer(link LinkLayer, act prox.Actuator, sampler battery.Sampler,
	cfg ServerConfig) (*Server, error) {

	decls := cfg.Decls
	if decls == nil {
		decls = ProximityTable()
	}

	db, err := attdb.NewDB(decls)
	if err != nil {
		return nil, err
	}
	db.Dump()

	s := &Server{
		db:   db,
		link: link,
		q:    task.NewQueue("gatts"),
		cfg:  cfg,
	}

	s.disp, err = notify.NewDispatcher(db, link)
	if err != nil {
		return nil, err
	}

	s.llHandle = valHandle(db, BLE_SVC_LINK_LOSS, BLE_CHR_ALERT_LEVEL)
	s.immHandle = valHandle(db, BLE_SVC_IMMEDIATE_ALERT, BLE_CHR_ALERT_LEVEL)
	if s.llHandle == 0 || s.immHandle == 0 {
		return nil, pxutil.NewTableError(0,
			"link loss or immediate alert service missing")
	}

	// The table holds the persisted link loss level.
	pcfg := cfg.Prox
	if v, _ := db.Value(s.llHandle); len(v) == 1 {
		lvl, err := prox.ParseAlertLevel(s.llHandle, v)
		if err != nil {
			return nil, pxutil.FmtTableError(s.llHandle,
				"bad link loss level: %s", err.Error())
		}
		pcfg.LinkLossLevel = lvl
	}
	if h := valHandle(db, BLE_SVC_TX_POWER, BLE_CHR_TX_POWER_LEVEL); h != 0 {
		if v, _ := db.Value(h); len(v) == 1 {
			pcfg.TxPower = int8(v[0])
		}
	}
	s.fsm = prox.NewFsm(act, pcfg)

	db.HookWrite(s.llHandle, func(a *attdb.Attr, op BleGattOp,
		data []byte) error {

		return s.fsm.WriteLinkLossAlert(a.Handle, data)
	})
	db.HookWrite(s.immHandle, func(a *attdb.Attr, op BleGattOp,
		data []byte) error {

		return s.fsm.WriteImmediateAlert(a.Handle, data)
	})

	s.bat, err = battery.NewMonitor(sampler, db, s.disp, battery.Handles{
		Level: valHandle(db, BLE_SVC_BATTERY, BLE_CHR_BATTERY_LEVEL),
		PowerState: valHandle(db, BLE_SVC_BATTERY,
			BLE_CHR_BATTERY_POWER_STATE),
		ServiceRequired: valHandle(db, BLE_SVC_BATTERY,
			BLE_CHR_SERVICE_REQUIRED),
		LevelState: valHandle(db, BLE_SVC_BATTERY,
			BLE_CHR_BATTERY_LEVEL_STATE),
	}, cfg.Battery)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) Start() error {
	depth := s.cfg.QueueDepth
	if depth <= 0 {
		depth = 1
	}

	return s.q.Start(depth)
}

func (s *Server) Stop() error {
	return s.q.Stop(fmt.Errorf("server stopped"))
}

// DB exposes the attribute database.  Only safe to use before Start or from
// within an event.
func (s *Server) DB() *attdb.DB {
	return s.db
}

func (s *Server) State() prox.ProxState {
	return s.fsm.State()
}

// run executes fn as a single event and flushes pending notifications once
// it completes.
func (s *Server) run(name string, fn func() error) error {
	return s.q.Run(func() error {
		log.Debugf("event: %s", name)

		err := fn()
		if ferr := s.disp.Flush(); ferr != nil {
			log.Debugf("notification flush after %s: %s",
				name, ferr.Error())
		}

		return err
	})
}

func (s *Server) checkConn(connHandle uint16) error {
	if s.conn == nil {
		return pxutil.NewConnError(connHandle, "not connected")
	}
	if s.conn.ConnHandle != connHandle {
		return pxutil.NewConnError(connHandle, "unknown connection")
	}

	return nil
}

func (s *Server) Connect(desc BleConnDesc) error {
	return s.run("connect", func() error {
		if err := s.fsm.Connect(desc.ConnHandle); err != nil {
			return err
		}

		s.conn = &desc
		s.disp.Open(desc.ConnHandle)
		log.Infof("connected: %s", desc.String())

		return nil
	})
}

func (s *Server) Disconnect(connHandle uint16,
	reason BleDisconnectReason) error {

	return s.run("disconnect", func() error {
		if err := s.fsm.Disconnect(connHandle, reason); err != nil {
			return err
		}

		if s.conn != nil && s.conn.ConnHandle == connHandle {
			s.conn = nil
			s.disp.Close()
			if err := s.db.SetValue(s.immHandle,
				[]byte{byte(BLE_ALERT_LEVEL_NONE)}); err != nil {

				return err
			}
		}

		return nil
	})
}

// Write applies a peer write.  A rejected write is reported to the peer
// with the corresponding ATT status and also returned.
func (s *Server) Write(connHandle uint16, handle uint16, op BleGattOp,
	data []byte) error {

	return s.run("write", func() error {
		if err := s.checkConn(connHandle); err != nil {
			return err
		}

		err := s.db.Write(handle, op, data, s.conn.Encrypted)
		if err == nil {
			return s.disp.OnValueChanged(handle)
		}

		status := pxutil.AttStatus(err)
		log.Debugf("write rejected: handle=0x%04x op=%s status=0x%02x: %s",
			handle, BleGattOpToString(op), uint8(status), err.Error())

		if rerr := s.link.RejectWrite(connHandle, handle,
			status); rerr != nil {

			log.Errorf("failed to send write rejection: %s", rerr.Error())
		}

		return err
	})
}

func (s *Server) Read(connHandle uint16, handle uint16) ([]byte, error) {
	var val []byte

	err := s.run("read", func() error {
		if err := s.checkConn(connHandle); err != nil {
			return err
		}

		var err error
		val, err = s.db.Read(handle, s.conn.Encrypted)
		return err
	})

	return val, err
}

func (s *Server) RssiUpdate(connHandle uint16, rssi int8) error {
	return s.run("rssi", func() error {
		return s.fsm.RssiUpdate(connHandle, rssi)
	})
}

func (s *Server) IndicateAck(connHandle uint16, handle uint16) error {
	return s.run("indicate_ack", func() error {
		if err := s.checkConn(connHandle); err != nil {
			return err
		}

		return s.disp.OnIndicateAck(handle)
	})
}

func (s *Server) EncryptChange(connHandle uint16, on bool) error {
	return s.run("encrypt_change", func() error {
		if err := s.checkConn(connHandle); err != nil {
			return err
		}

		s.conn.Encrypted = on
		log.Debugf("encryption change: %s", s.conn.String())

		return nil
	})
}

func (s *Server) ButtonPress() error {
	return s.run("button", func() error {
		if s.fsm.Acknowledge() && s.conn != nil {
			return s.db.SetValue(s.immHandle,
				[]byte{byte(BLE_ALERT_LEVEL_NONE)})
		}

		return nil
	})
}

func (s *Server) AlertDone() error {
	return s.run("alert_done", func() error {
		s.fsm.AlertDone()
		return s.db.SetValue(s.immHandle,
			[]byte{byte(BLE_ALERT_LEVEL_NONE)})
	})
}

func (s *Server) BatteryTick() error {
	return s.run("battery_tick", func() error {
		return s.bat.Tick()
	})
}

// Snapshot is a consistent view of the server for diagnostics.
type Snapshot struct {
	Prox          prox.Snapshot     `json:"prox" structs:"prox"`
	Battery       battery.Record    `json:"battery" structs:"battery"`
	Subscriptions map[uint16]uint16 `json:"subscriptions" structs:"subscriptions"`
}

func (s *Server) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)

	err := s.q.RunContext(ctx, func() error {
		ch <- Snapshot{
			Prox:          s.fsm.Snapshot(),
			Battery:       s.bat.Record(),
			Subscriptions: s.disp.Subscriptions(),
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "snapshot")
	}

	return <-ch, nil
}

// Value reads an attribute without access control, for diagnostics.
func (s *Server) Value(ctx context.Context, handle uint16) ([]byte, error) {
	ch := make(chan []byte, 1)

	err := s.q.RunContext(ctx, func() error {
		val, err := s.db.Value(handle)
		ch <- val
		return err
	})
	if err != nil {
		return nil, err
	}

	return <-ch, nil
}
