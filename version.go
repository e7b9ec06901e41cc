// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcsession

// VersionToken computes the 32-bit little-endian [build, minor, major, 0]
// version token spec.md §3/§6 use as the sole protocol-compatibility
// check, interpreted as a signed 32-bit integer.
func VersionToken(major, minor, build byte) int32 {
	b := [4]byte{build, minor, major, 0}
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}
