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

package pxutil

import (
	"fmt"
	"testing"

	"github.com/JuulLabs-OSS/ble"
	"github.com/pkg/errors"
)

func TestAttStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ble.ATTError
	}{
		{"nil", nil, ble.ErrSuccess},
		{"not found", NewNotFoundError(0x0099), ble.ErrInvalidHandle},
		{"not permitted",
			NewNotPermittedError(0x002d, ble.ErrWriteNotPerm, "no"),
			ble.ErrWriteNotPerm},
		{"length", NewInvalidLengthError(0x002d, 2, 1),
			ble.ErrInvalAttrValueLen},
		{"range", NewInvalidValueError(0x002d, ATT_ERR_OUT_OF_RANGE, "3"),
			ATT_ERR_OUT_OF_RANGE},
		{"wrapped",
			errors.Wrap(NewInvalidValueError(0x0034, ATT_ERR_CCCD_IMPROPER,
				"bits"), "cccd"),
			ATT_ERR_CCCD_IMPROPER},
		{"foreign", fmt.Errorf("boom"), ble.ErrUnlikely},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AttStatus(tt.err); got != tt.want {
				t.Fatalf("want 0x%02x, got 0x%02x", uint8(tt.want), uint8(got))
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := errors.Wrap(NewInvalidLengthError(0x0016, 20, 15), "write")
	if !IsInvalidLength(err) || IsNotFound(err) || IsInvalidValue(err) {
		t.Fatalf("wrong kind for %s", err.Error())
	}

	if !IsTable(FmtTableError(1, "dup %d", 1)) || IsTable(err) {
		t.Fatalf("table error not recognised")
	}
	if !IsConn(NewConnError(4, "unknown")) || IsConn(err) {
		t.Fatalf("conn error not recognised")
	}
	if !IsXport(NewXportError("crc")) || IsXport(err) {
		t.Fatalf("xport error not recognised")
	}
}
