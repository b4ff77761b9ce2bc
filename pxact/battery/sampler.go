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

package battery

import (
	"io/ioutil"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// FileSampler reads a millivolt reading from a text file, as exposed by a
// sysfs ADC channel.
type FileSampler struct {
	Path string
}

func (s *FileSampler) Sample() (uint16, error) {
	b, err := ioutil.ReadFile(s.Path)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", s.Path)
	}

	mv, err := cast.ToUint16E(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", s.Path)
	}

	return mv, nil
}

// ManualSampler reports whatever reading was last set.  Used by the link
// simulator and tests.
type ManualSampler struct {
	mv int32
}

func NewManualSampler(mv uint16) *ManualSampler {
	return &ManualSampler{mv: int32(mv)}
}

func (s *ManualSampler) Set(mv uint16) {
	atomic.StoreInt32(&s.mv, int32(mv))
}

func (s *ManualSampler) Sample() (uint16, error) {
	return uint16(atomic.LoadInt32(&s.mv)), nil
}
