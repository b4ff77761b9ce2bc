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
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"

	"mynewt.apache.org/proxsvr/proxsvr/config"
	"mynewt.apache.org/proxsvr/proxsvr/svrutil"
	"mynewt.apache.org/proxsvr/pxact/gatts"
	"mynewt.apache.org/proxsvr/pxact/lnkserial"
	"mynewt.apache.org/proxsvr/pxact/oic"
)

func loadBoardCfg() *config.BoardCfg {
	bc, err := config.LoadBoardCfg(svrutil.CfgPath)
	if err != nil {
		nmUsage(nil, err)
	}

	if svrutil.LinkConnString != "" {
		bc.Link = svrutil.LinkConnString
	}
	if svrutil.CoapAddr != "" {
		bc.CoapAddr = svrutil.CoapAddr
	}

	log.Debugf("Board configuration: %s", bc.String())
	return bc
}

// batteryLoop samples the battery until stop is closed.
func batteryLoop(srv *gatts.Server, period time.Duration,
	stop <-chan struct{}) {

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := srv.BatteryTick(); err != nil {
				log.Errorf("battery tick failed: %s", err.Error())
			}

		case <-stop:
			return
		}
	}
}

func startDiagnostics(srv *gatts.Server, addr string) *oic.Server {
	diag := oic.NewServer()
	if err := oic.AddProxResources(diag, srv); err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}

	uaddr, err := diag.Listen(addr)
	if err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}

	log.Infof("Diagnostics listening on coap://%s", uaddr.String())
	return diag
}

func runRunCmd(cmd *cobra.Command, args []string) {
	bc := loadBoardCfg()

	xc, err := config.ParseLinkConnString(bc.Link)
	if err != nil {
		nmUsage(cmd, err)
	}

	scfg, err := bc.ServerConfig()
	if err != nil {
		nmUsage(nil, err)
	}

	period, err := bc.BatteryPeriod()
	if err != nil {
		nmUsage(nil, err)
	}

	link := lnkserial.NewLink(xc)
	if err := link.Open(); err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}
	addOnExit(func() { link.Close() })

	if err := link.SendBoardCfg(bc.Pins.BoardPins()); err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}

	// The link carries both the GATT PDUs and the buzzer/LED commands.
	srv, err := gatts.NewServer(link, link, bc.Sampler(), scfg)
	if err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}
	if err := srv.Start(); err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}
	addOnExit(func() { srv.Stop() })

	if bc.CoapAddr != "" {
		diag := startDiagnostics(srv, bc.CoapAddr)
		addOnExit(func() { diag.Close() })
	}

	stop := make(chan struct{})
	go batteryLoop(srv, period, stop)
	addOnExit(func() { close(stop) })

	// Report the initial battery reading before the first tick.
	if err := srv.BatteryTick(); err != nil {
		log.Errorf("battery tick failed: %s", err.Error())
	}

	log.Infof("Serving proximity profile on %s (%d baud)", xc.DevPath,
		xc.Baud)
	if err := link.Serve(srv); err != nil {
		nmUsage(nil, util.ChildNewtError(err))
	}

	Shutdown()
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the proximity profile over the board's serial link",
		Example: "  " + svrutil.ToolInfo.ExeName +
			" run --link dev=/dev/ttyUSB0,baud=115200",
		Run: runRunCmd,
	}

	cmd.Flags().StringVar(&svrutil.LinkConnString, "link", "",
		"link connstring; overrides the board configuration")
	cmd.Flags().StringVar(&svrutil.CoapAddr, "coap", "",
		"diagnostics listen address; overrides the board configuration")

	return cmd
}
