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

package cli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JuulLabs-OSS/ble"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	"mynewt.apache.org/newt/util"

	"mynewt.apache.org/proxsvr/proxsvr/svrutil"
	"mynewt.apache.org/proxsvr/pxact/battery"
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/gatts"
)

type printFn func(a ...interface{})

// simLink stands in for the controller: everything the server sends to the
// peer or the actuators is printed.
type simLink struct {
	out printFn
}

func (l *simLink) Notify(connHandle uint16, handle uint16, data []byte) error {
	l.out(fmt.Sprintf("<- notify conn=%d handle=0x%04x data=%x",
		connHandle, handle, data))
	return nil
}

func (l *simLink) Indicate(connHandle uint16, handle uint16,
	data []byte) error {

	l.out(fmt.Sprintf("<- indicate conn=%d handle=0x%04x data=%x",
		connHandle, handle, data))
	return nil
}

func (l *simLink) RejectWrite(connHandle uint16, handle uint16,
	reason ble.ATTError) error {

	l.out(fmt.Sprintf("<- reject conn=%d handle=0x%04x status=0x%02x",
		connHandle, handle, uint8(reason)))
	return nil
}

func (l *simLink) SoundAlert(level BleAlertLevel) {
	l.out(fmt.Sprintf("<- sound alert %s", level.String()))
}

func (l *simLink) StopAlert() {
	l.out("<- stop alert")
}

type simulator struct {
	srv     *gatts.Server
	sampler *battery.ManualSampler
	out     printFn

	// Connection handle the next events are attributed to.
	conn uint16
}

func newSimulator(cfg gatts.ServerConfig, out printFn) (*simulator, error) {
	sim := &simulator{
		sampler: battery.NewManualSampler(3000),
		out:     out,
		conn:    1,
	}

	link := &simLink{out: out}

	var err error
	sim.srv, err = gatts.NewServer(link, link, sim.sampler, cfg)
	if err != nil {
		return nil, err
	}

	if err := sim.srv.Start(); err != nil {
		return nil, err
	}

	return sim, nil
}

func (sim *simulator) stop() {
	sim.srv.Stop()
}

func argHandle(args []string, idx int) (uint16, error) {
	if len(args) <= idx {
		return 0, fmt.Errorf("missing attribute handle")
	}

	h, err := cast.ToUint16E(args[idx])
	if err != nil {
		return 0, fmt.Errorf("invalid attribute handle: %s", args[idx])
	}

	return h, nil
}

type simCmd struct {
	name string
	help string
	fn   func(sim *simulator, args []string) error
}

var simCmds = []simCmd{
	{
		name: "connect",
		help: "Peer connects: connect [conn-handle] [enc]",
		fn: func(sim *simulator, args []string) error {
			desc := BleConnDesc{ConnHandle: sim.conn}
			if len(args) > 0 {
				h, err := cast.ToUint16E(args[0])
				if err != nil {
					return fmt.Errorf("invalid connection handle: %s",
						args[0])
				}
				desc.ConnHandle = h
			}
			desc.Encrypted = len(args) > 1 && args[1] == "enc"

			if err := sim.srv.Connect(desc); err != nil {
				return err
			}
			sim.conn = desc.ConnHandle
			return nil
		},
	},
	{
		name: "disconnect",
		help: "Peer disconnects: disconnect [graceful|link_loss]",
		fn: func(sim *simulator, args []string) error {
			reason := BLE_DISCONNECT_LINK_LOSS
			if len(args) > 0 {
				var err error
				reason, err = BleDisconnectReasonFromString(args[0])
				if err != nil {
					return err
				}
			}

			return sim.srv.Disconnect(sim.conn, reason)
		},
	},
	{
		name: "write",
		help: "Peer writes: write <handle> <hex-data> [req|cmd]",
		fn: func(sim *simulator, args []string) error {
			h, err := argHandle(args, 0)
			if err != nil {
				return err
			}
			if len(args) < 2 {
				return fmt.Errorf("missing data")
			}
			data, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("invalid data: %s", args[1])
			}

			op := BLE_GATT_ACCESS_OP_WRITE_REQ
			if len(args) > 2 && args[2] == "cmd" {
				op = BLE_GATT_ACCESS_OP_WRITE_CMD
			}

			return sim.srv.Write(sim.conn, h, op, data)
		},
	},
	{
		name: "read",
		help: "Peer reads: read <handle>",
		fn: func(sim *simulator, args []string) error {
			h, err := argHandle(args, 0)
			if err != nil {
				return err
			}

			val, err := sim.srv.Read(sim.conn, h)
			if err != nil {
				return err
			}

			sim.out(fmt.Sprintf("0x%04x: %x %q", h, val, val))
			return nil
		},
	},
	{
		name: "rssi",
		help: "Controller reports signal strength: rssi <dBm>",
		fn: func(sim *simulator, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("missing rssi")
			}
			rssi, err := cast.ToInt8E(args[0])
			if err != nil {
				return fmt.Errorf("invalid rssi: %s", args[0])
			}

			return sim.srv.RssiUpdate(sim.conn, rssi)
		},
	},
	{
		name: "ack",
		help: "Peer confirms an indication: ack <handle>",
		fn: func(sim *simulator, args []string) error {
			h, err := argHandle(args, 0)
			if err != nil {
				return err
			}

			return sim.srv.IndicateAck(sim.conn, h)
		},
	},
	{
		name: "encrypt",
		help: "Link encryption changes: encrypt <on|off>",
		fn: func(sim *simulator, args []string) error {
			if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
				return fmt.Errorf("usage: encrypt <on|off>")
			}

			return sim.srv.EncryptChange(sim.conn, args[0] == "on")
		},
	},
	{
		name: "button",
		help: "User presses the button",
		fn: func(sim *simulator, args []string) error {
			return sim.srv.ButtonPress()
		},
	},
	{
		name: "done",
		help: "Buzzer finishes sounding",
		fn: func(sim *simulator, args []string) error {
			return sim.srv.AlertDone()
		},
	},
	{
		name: "battery",
		help: "Battery reads the given voltage: battery <millivolts>",
		fn: func(sim *simulator, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("missing millivolts")
			}
			mv, err := cast.ToUint16E(args[0])
			if err != nil {
				return fmt.Errorf("invalid millivolts: %s", args[0])
			}

			sim.sampler.Set(mv)
			return sim.srv.BatteryTick()
		},
	},
	{
		name: "state",
		help: "Display server state",
		fn: func(sim *simulator, args []string) error {
			snap, err := sim.srv.Snapshot(context.Background())
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(snap, "", "    ")
			if err != nil {
				return err
			}

			sim.out(string(b))
			return nil
		},
	},
}

func (sim *simulator) exec(name string, args []string) error {
	for _, c := range simCmds {
		if c.name == name {
			return c.fn(sim, args)
		}
	}

	return fmt.Errorf("unknown command: %s", name)
}

func startShell(cmd *cobra.Command, args []string) {
	bc := loadBoardCfg()

	scfg, err := bc.ServerConfig()
	if err != nil {
		nmUsage(nil, err)
	}

	// by default, new shell includes 'exit', 'help' and 'clear' commands.
	shell := ishell.New()
	shell.SetPrompt("prox> ")

	sim, err := newSimulator(scfg, shell.Println)
	if err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}
	defer sim.stop()

	shell.Println()
	shell.Println(" " + svrutil.ToolInfo.LongName + " link simulator")
	shell.Println()

	for _, c := range simCmds {
		c := c
		shell.AddCmd(&ishell.Cmd{
			Name: c.name,
			Help: c.help,
			Func: func(ctx *ishell.Context) {
				if err := sim.exec(c.name, ctx.Args); err != nil {
					ctx.Println("Error:", err)
				}
			},
		})
	}

	shell.Run()
	shell.Close()
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Drive the GATT server from an interactive link simulator",
		Run:   startShell,
	}
}
