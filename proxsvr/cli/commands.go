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
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"

	"mynewt.apache.org/proxsvr/proxsvr/svrutil"
	"mynewt.apache.org/proxsvr/pxact/pxutil"
)

var ProxsvrLogLevel log.Level

var onExitMtx sync.Mutex
var onExitFns []func()

// addOnExit registers cleanup to run when the process is told to quit.
func addOnExit(fn func()) {
	onExitMtx.Lock()
	defer onExitMtx.Unlock()

	onExitFns = append(onExitFns, fn)
}

// Shutdown runs the registered cleanup functions, most recent first.
func Shutdown() {
	onExitMtx.Lock()
	fns := onExitFns
	onExitFns = nil
	onExitMtx.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func nmUsage(cmd *cobra.Command, err error) {
	if err != nil {
		if nerr, ok := err.(*util.NewtError); ok {
			log.Debugf("%s", nerr.StackTrace)
			fmt.Fprintf(os.Stderr, "Error: %s\n", nerr.Text)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		}
	}

	if cmd != nil {
		fmt.Printf("\n")
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}

	Shutdown()
	os.Exit(1)
}

func Commands() *cobra.Command {
	logLevelStr := ""
	pxCmd := &cobra.Command{
		Use: svrutil.ToolInfo.ExeName,
		Short: svrutil.ToolInfo.ShortName +
			" serves the BLE proximity profile for a key fob",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			ProxsvrLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				nmUsage(nil, util.ChildNewtError(err))
			}

			err = util.Init(ProxsvrLogLevel, "", util.VERBOSITY_DEFAULT)
			if err != nil {
				nmUsage(nil, err)
			}
			pxutil.SetLogLevel(ProxsvrLogLevel)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	pxCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l", "info",
		"log level to use")

	pxCmd.PersistentFlags().StringVar(&svrutil.CfgPath, "config", "",
		"board configuration file; defaults to ~/"+
			svrutil.ToolInfo.CfgFilename)

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + svrutil.ToolInfo.ShortName + " version number",
		Example: "  " + svrutil.ToolInfo.ExeName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n",
				svrutil.ToolInfo.LongName,
				svrutil.ToolInfo.VersionString)
		},
	}
	pxCmd.AddCommand(versCmd)

	pxCmd.AddCommand(runCmd())
	pxCmd.AddCommand(tableCmd())
	pxCmd.AddCommand(shellCmd())

	return pxCmd
}
