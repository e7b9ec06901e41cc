// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcsession

// Wire error codes. Fixed as the sequence spec.md §6 lists them in,
// starting at 1 — spec.md states the numeric values "MUST match the
// existing client" but does not itself give numbers, so this repo
// fixes them here.
const (
	ErrInvalidMessage = iota + 1
	ErrUnrecognisedProtocol
	ErrAuthFailed
	ErrAuthExpired
	ErrAuthRestart
	ErrAuthClientSecurityLevelTooLow
	ErrAuthMissingParam
	ErrVersionClientTooLow
)
