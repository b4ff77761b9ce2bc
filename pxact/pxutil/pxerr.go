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

	"github.com/JuulLabs-OSS/ble"
	"github.com/pkg/errors"
)

// Common profile error codes (Core Supplement, Part B).
const (
	ATT_ERR_CCCD_IMPROPER ble.ATTError = 0xfd
	ATT_ERR_OUT_OF_RANGE  ble.ATTError = 0xff
)

type AttErrKind int

const (
	ATT_ERR_KIND_NOT_FOUND AttErrKind = iota
	ATT_ERR_KIND_NOT_PERMITTED
	ATT_ERR_KIND_INVALID_LENGTH
	ATT_ERR_KIND_INVALID_VALUE
)

var attErrKindStringMap = map[AttErrKind]string{
	ATT_ERR_KIND_NOT_FOUND:      "not_found",
	ATT_ERR_KIND_NOT_PERMITTED:  "not_permitted",
	ATT_ERR_KIND_INVALID_LENGTH: "invalid_length",
	ATT_ERR_KIND_INVALID_VALUE:  "invalid_value",
}

func (k AttErrKind) String() string {
	s := attErrKindStringMap[k]
	if s == "" {
		return "???"
	}

	return s
}

// Represents a rejected attribute access.  The status is reported to the
// peer in an ATT error response.
type AttError struct {
	Kind   AttErrKind
	Handle uint16
	Status ble.ATTError
	Text   string
}

func NewAttError(kind AttErrKind, handle uint16, status ble.ATTError,
	text string) *AttError {

	return &AttError{
		Kind:   kind,
		Handle: handle,
		Status: status,
		Text:   text,
	}
}

func FmtAttError(kind AttErrKind, handle uint16, status ble.ATTError,
	format string, args ...interface{}) *AttError {

	return NewAttError(kind, handle, status, fmt.Sprintf(format, args...))
}

func (e *AttError) Error() string {
	return fmt.Sprintf("%s (handle=0x%04x status=0x%02x %s)",
		e.Text, e.Handle, uint8(e.Status), e.Status.Error())
}

func NewNotFoundError(handle uint16) *AttError {
	return NewAttError(ATT_ERR_KIND_NOT_FOUND, handle, ble.ErrInvalidHandle,
		"no attribute with handle")
}

func NewNotPermittedError(handle uint16, status ble.ATTError,
	text string) *AttError {

	return NewAttError(ATT_ERR_KIND_NOT_PERMITTED, handle, status, text)
}

func NewInvalidLengthError(handle uint16, length int, max int) *AttError {
	return FmtAttError(ATT_ERR_KIND_INVALID_LENGTH, handle,
		ble.ErrInvalAttrValueLen,
		"invalid value length; len=%d max=%d", length, max)
}

func NewInvalidValueError(handle uint16, status ble.ATTError,
	text string) *AttError {

	return NewAttError(ATT_ERR_KIND_INVALID_VALUE, handle, status, text)
}

func ToAttError(err error) *AttError {
	if aerr, ok := errors.Cause(err).(*AttError); ok {
		return aerr
	} else {
		return nil
	}
}

func isAttKind(err error, kind AttErrKind) bool {
	aerr := ToAttError(err)
	return aerr != nil && aerr.Kind == kind
}

func IsNotFound(err error) bool {
	return isAttKind(err, ATT_ERR_KIND_NOT_FOUND)
}

func IsNotPermitted(err error) bool {
	return isAttKind(err, ATT_ERR_KIND_NOT_PERMITTED)
}

func IsInvalidLength(err error) bool {
	return isAttKind(err, ATT_ERR_KIND_INVALID_LENGTH)
}

func IsInvalidValue(err error) bool {
	return isAttKind(err, ATT_ERR_KIND_INVALID_VALUE)
}

// AttStatus returns the ATT status code to report for err; ErrUnlikely if
// err is not an attribute access error.
func AttStatus(err error) ble.ATTError {
	if err == nil {
		return ble.ErrSuccess
	}

	if aerr := ToAttError(err); aerr != nil {
		return aerr.Status
	}

	return ble.ErrUnlikely
}

// Indicates a malformed attribute table.  Always fatal; reported once at
// startup.
type TableError struct {
	Text   string
	Handle uint16
}

func NewTableError(handle uint16, text string) *TableError {
	return &TableError{
		Text:   text,
		Handle: handle,
	}
}

func FmtTableError(handle uint16, format string,
	args ...interface{}) *TableError {

	return NewTableError(handle, fmt.Sprintf(format, args...))
}

func (e *TableError) Error() string {
	return fmt.Sprintf("invalid attribute table: %s (handle=0x%04x)",
		e.Text, e.Handle)
}

func IsTable(err error) bool {
	_, ok := errors.Cause(err).(*TableError)
	return ok
}

// Indicates an event for a connection other than the current one.
type ConnError struct {
	Text       string
	ConnHandle uint16
}

func NewConnError(connHandle uint16, text string) *ConnError {
	return &ConnError{
		Text:       text,
		ConnHandle: connHandle,
	}
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s (conn_handle=%d)", e.Text, e.ConnHandle)
}

func IsConn(err error) bool {
	_, ok := errors.Cause(err).(*ConnError)
	return ok
}

// Represents a low-level transport error.
type XportError struct {
	Text string
}

func NewXportError(text string) *XportError {
	return &XportError{text}
}

func (e *XportError) Error() string {
	return e.Text
}

func IsXport(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*XportError)
	return ok
}
