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

package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"mynewt.apache.org/newt/util"

	"mynewt.apache.org/proxsvr/proxsvr/svrutil"
	"mynewt.apache.org/proxsvr/pxact/attdb"
	"mynewt.apache.org/proxsvr/pxact/battery"
	. "mynewt.apache.org/proxsvr/pxact/bledefs"
	"mynewt.apache.org/proxsvr/pxact/gatts"
	"mynewt.apache.org/proxsvr/pxact/lnkserial"
	"mynewt.apache.org/proxsvr/pxact/prox"
)

// Pin number of a role the board does not wire.
const PIN_NONE = -1

// PinCfg names the GPIOs the key fob uses.  The server does not drive them
// itself; they are handed to the controller firmware.
type PinCfg struct {
	WriteProtect int `json:"wp"`
	Button       int `json:"button"`
	Led          int `json:"led"`
	Battery      int `json:"battery"`
	Buzzer       int `json:"buzzer"`
}

// BoardPins converts the pin roles to their link form, unchanged.
func (p PinCfg) BoardPins() lnkserial.BoardPins {
	return lnkserial.BoardPins{
		WriteProtect: p.WriteProtect,
		Button:       p.Button,
		Led:          p.Led,
		Battery:      p.Battery,
		Buzzer:       p.Buzzer,
	}
}

type BoardCfg struct {
	// Serial link connection string: "dev=<path>,baud=<rate>".
	Link string `json:"link"`

	Pins PinCfg `json:"pins"`

	AlertPolicy string `json:"alert_policy"`

	// Empty strings keep the attribute table's defaults.
	LinkLossLevel string `json:"link_loss_level"`
	DeviceName    string `json:"device_name"`
	TxPower       *int   `json:"tx_power"`

	CriticalPercent uint8            `json:"critical_pct"`
	Cal             battery.CalTable `json:"cal"`

	// Millivolt reading source; empty reports a full battery.
	BatteryFile     string `json:"battery_file"`
	BatteryInterval string `json:"battery_interval"`

	// Diagnostics CoAP listener; empty disables it.
	CoapAddr string `json:"coap_addr"`

	QueueDepth int `json:"queue_depth"`
}

func NewBoardCfg() *BoardCfg {
	return &BoardCfg{
		Link: "dev=/dev/ttyUSB0,baud=115200",
		Pins: PinCfg{
			WriteProtect: PIN_NONE,
			Button:       PIN_NONE,
			Led:          PIN_NONE,
			Battery:      PIN_NONE,
			Buzzer:       PIN_NONE,
		},
		AlertPolicy:     prox.AlertPolicyToString(prox.ALERT_POLICY_EDGE),
		CriticalPercent: battery.CRITICAL_PCT_DFLT,
		BatteryInterval: "60s",
		CoapAddr:        "127.0.0.1:5683",
		QueueDepth:      32,
	}
}

func (bc *BoardCfg) String() string {
	return fmt.Sprintf("link=%s policy=%s coap=%s", bc.Link, bc.AlertPolicy,
		bc.CoapAddr)
}

func einvalLinkConnString(f string, args ...interface{}) error {
	suffix := fmt.Sprintf(f, args...)
	return util.FmtNewtError("Invalid link connstring; %s", suffix)
}

// ParseLinkConnString parses "dev=<path>,baud=<rate>[,timeout=<dur>]
// [,chunk_delay=<dur>]".  A lone token is taken as the device path.
func ParseLinkConnString(cs string) (*lnkserial.XportCfg, error) {
	sc := lnkserial.NewXportCfg()

	parts := strings.Split(cs, ",")
	for _, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) == 1 {
			kv = []string{"dev", kv[0]}
		}

		k := kv[0]
		v := kv[1]

		var err error
		switch k {
		case "dev":
			sc.DevPath = v

		case "baud":
			sc.Baud, err = cast.ToIntE(v)
			if err != nil || sc.Baud <= 0 {
				return nil, einvalLinkConnString("Invalid baud: %s", v)
			}

		case "timeout":
			sc.ReadTimeout, err = cast.ToDurationE(v)
			if err != nil {
				return nil, einvalLinkConnString("Invalid timeout: %s", v)
			}

		case "chunk_delay":
			sc.ChunkDelay, err = cast.ToDurationE(v)
			if err != nil {
				return nil, einvalLinkConnString("Invalid chunk_delay: %s", v)
			}

		default:
			return nil, einvalLinkConnString("Unrecognized key: %s", k)
		}
	}

	if sc.DevPath == "" {
		return nil, einvalLinkConnString("Missing dev")
	}

	return sc, nil
}

// BatteryPeriod returns the interval between battery samples.
func (bc *BoardCfg) BatteryPeriod() (time.Duration, error) {
	d, err := cast.ToDurationE(bc.BatteryInterval)
	if err != nil || d <= 0 {
		return 0, util.FmtNewtError("Invalid battery_interval: %s",
			bc.BatteryInterval)
	}

	return d, nil
}

// ServerConfig converts the board settings into a GATT server
// configuration.  Table overrides are applied to a fresh copy of the
// proximity table.
func (bc *BoardCfg) ServerConfig() (gatts.ServerConfig, error) {
	cfg := gatts.NewServerConfig()

	policy, err := prox.AlertPolicyFromString(bc.AlertPolicy)
	if err != nil {
		return cfg, util.ChildNewtError(err)
	}
	cfg.Prox.Policy = policy

	if bc.CriticalPercent > 100 {
		return cfg, util.FmtNewtError("Invalid critical_pct: %d",
			bc.CriticalPercent)
	}
	cfg.Battery.CriticalPercent = bc.CriticalPercent

	if bc.Cal != nil {
		if err := bc.Cal.Validate(); err != nil {
			return cfg, util.ChildNewtError(err)
		}
		cfg.Battery.Cal = bc.Cal
	}

	if bc.QueueDepth > 0 {
		cfg.QueueDepth = bc.QueueDepth
	}

	decls := gatts.ProximityTable()

	if bc.LinkLossLevel != "" {
		lvl, err := BleAlertLevelFromString(bc.LinkLossLevel)
		if err != nil {
			return cfg, util.ChildNewtError(err)
		}
		err = attdb.SetDeclValue(decls, gatts.HANDLE_LINK_LOSS_LEVEL,
			[]byte{byte(lvl)})
		if err != nil {
			return cfg, util.ChildNewtError(err)
		}
	}

	if bc.DeviceName != "" {
		err := attdb.SetDeclValue(decls, gatts.HANDLE_DEVICE_NAME,
			[]byte(bc.DeviceName))
		if err != nil {
			return cfg, util.ChildNewtError(err)
		}
	}

	if bc.TxPower != nil {
		if *bc.TxPower < -100 || *bc.TxPower > 20 {
			return cfg, util.FmtNewtError("Invalid tx_power: %d",
				*bc.TxPower)
		}
		err := attdb.SetDeclValue(decls, gatts.HANDLE_TX_POWER_LEVEL,
			[]byte{byte(int8(*bc.TxPower))})
		if err != nil {
			return cfg, util.ChildNewtError(err)
		}
	}

	cfg.Decls = decls
	return cfg, nil
}

// Sampler returns the battery reading source the board is configured for.
func (bc *BoardCfg) Sampler() battery.Sampler {
	if bc.BatteryFile == "" {
		return battery.NewManualSampler(3000)
	}

	return &battery.FileSampler{Path: bc.BatteryFile}
}

func DefaultCfgPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", util.NewNewtError(err.Error())
	}

	return filepath.Join(dir, svrutil.ToolInfo.CfgFilename), nil
}

// LoadBoardCfg reads the board configuration at path.  An empty path
// selects the file in the user's home directory, which need not exist.
func LoadBoardCfg(path string) (*BoardCfg, error) {
	bc := NewBoardCfg()

	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultCfgPath()
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Reading board configuration from %s", path)
	blob, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return bc, nil
		}
		return nil, util.ChildNewtError(err)
	}

	if err := json.Unmarshal(blob, bc); err != nil {
		return nil, util.FmtNewtError("error reading board config (%s): %s",
			path, err.Error())
	}

	return bc, nil
}
