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
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"

	"mynewt.apache.org/proxsvr/proxsvr/svrutil"
	"mynewt.apache.org/proxsvr/pxact/attdb"
)

func tableCmd() *cobra.Command {
	var outPath string
	var dumpHex bool

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Display the attribute table the server would load",
		Example: "  " + svrutil.ToolInfo.ExeName + " table\n" +
			"  " + svrutil.ToolInfo.ExeName + " table --hex -o prox.bin",
		Run: func(cmd *cobra.Command, args []string) {
			bc := loadBoardCfg()

			scfg, err := bc.ServerConfig()
			if err != nil {
				nmUsage(nil, err)
			}

			db, err := attdb.NewDB(scfg.Decls)
			if err != nil {
				nmUsage(nil, util.ChildNewtError(err))
			}
			db.Fprint(os.Stdout)

			if outPath == "" && !dumpHex {
				return
			}

			b, err := attdb.MarshalTable(scfg.Decls)
			if err != nil {
				nmUsage(nil, util.ChildNewtError(err))
			}

			if dumpHex {
				fmt.Printf("\n%s", hex.Dump(b))
			}

			if outPath != "" {
				if err := ioutil.WriteFile(outPath, b, 0644); err != nil {
					nmUsage(nil, util.ChildNewtError(err))
				}
				fmt.Printf("Wrote %d bytes to %s\n", len(b), outPath)
			}
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "",
		"write the table in the flat firmware format to this file")
	cmd.Flags().BoolVar(&dumpHex, "hex", false,
		"hex dump the flat firmware format")

	return cmd
}
