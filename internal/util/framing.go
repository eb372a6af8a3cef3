/*
Copyright 2024 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package util

import (
	"encoding/binary"
	"fmt"
)

// PutUint32String appends s to buf as a 4-byte little-endian length prefix
// followed by its raw bytes. This is the length-prefixed framing that the
// on-disk records shared between clusters use throughout this module.
func PutUint32String(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)

	return buf
}

// PutUint32 appends v to buf as a 4-byte little-endian integer.
func PutUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)

	return append(buf, b[:]...)
}

// ReadUint32String reads a length-prefixed string from buf, returning the
// string and the remaining, unconsumed buffer.
func ReadUint32String(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("truncated length prefix: %d bytes remaining", len(buf))
	}

	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]

	if uint64(len(buf)) < uint64(n) {
		return "", nil, fmt.Errorf("truncated string: want %d bytes, have %d", n, len(buf))
	}

	return string(buf[:n]), buf[n:], nil
}

// ReadUint32 reads a 4-byte little-endian integer from buf, returning the
// value and the remaining, unconsumed buffer.
func ReadUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("truncated integer: %d bytes remaining", len(buf))
	}

	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}
