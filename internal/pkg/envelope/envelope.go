// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package envelope implements the wire schema carried over the
// WebSocket channel between the plugin and a browser extension: a
// single outer JSON object tagged by protocol, plus the SRP, stored-key
// challenge, encrypted-RPC, and error sub-payloads it may carry.
//
// Decode/Encode are pure functions over bytes; neither keeps state nor
// talks to the transport. Unknown fields are ignored on decode, and
// absent optional fields are omitted (not emitted as JSON null) on
// encode, matching the teacher's direct json.Marshal/Unmarshal usage on
// plain wire structs in cmd/server/main.go and cmd/client/main.go.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Protocol tags the outer envelope.
type Protocol string

const (
	ProtocolSetup   Protocol = "setup"
	ProtocolJSONRPC Protocol = "jsonrpc"
	ProtocolError   Protocol = "error"
)

// SRPStage tags the sub-stage of an SRP sub-payload.
type SRPStage string

const (
	StageIdentifyToClient SRPStage = "identifyToClient"
	StageIdentifyToServer SRPStage = "identifyToServer"
	StageProofToClient    SRPStage = "proofToClient"
	StageProofToServer    SRPStage = "proofToServer"
)

// SRP is the SRP sub-payload. Hex-encoded big-integer fields use
// HexBig so the wire format matches the hex convention used throughout
// the SRP reference implementations this package is grounded on.
type SRP struct {
	Stage         SRPStage `json:"stage,omitempty"`
	I             string   `json:"I,omitempty"`
	A             *HexBig  `json:"A,omitempty"`
	B             *HexBig  `json:"B,omitempty"`
	S             *HexBig  `json:"s,omitempty"`
	M             *HexBig  `json:"M,omitempty"`
	M2            *HexBig  `json:"M2,omitempty"`
	SecurityLevel int      `json:"securityLevel"`
}

// Key is the stored-key challenge sub-payload.
type Key struct {
	Username      string `json:"username,omitempty"`
	SC            string `json:"sc,omitempty"`
	CC            string `json:"cc,omitempty"`
	CR            string `json:"cr,omitempty"`
	SR            string `json:"sr,omitempty"`
	SecurityLevel int    `json:"securityLevel"`
}

// JSONRPC is the encrypted-payload sub-object; all three fields are
// base64 text as JSON encodes []byte.
type JSONRPC struct {
	IV      []byte `json:"iv"`
	Message []byte `json:"message"`
	HMAC    []byte `json:"hmac"`
}

// Error is the error sub-payload.
type Error struct {
	Code          int      `json:"code"`
	MessageParams []string `json:"messageParams,omitempty"`
}

// Envelope is the outer wire object.
type Envelope struct {
	Protocol                 Protocol `json:"protocol"`
	Version                  int32    `json:"version"`
	Features                 []string `json:"features,omitempty"`
	SRP                      *SRP     `json:"srp,omitempty"`
	Key                      *Key     `json:"key,omitempty"`
	JSONRPC                  *JSONRPC `json:"jsonrpc,omitempty"`
	ErrorPayload             *Error   `json:"error,omitempty"`
	ClientDisplayName        string   `json:"clientDisplayName,omitempty"`
	ClientDisplayDescription string   `json:"clientDisplayDescription,omitempty"`
}

// ParseError is returned by Decode on malformed input. Per spec, a
// ParseError always maps to an INVALID_MESSAGE error envelope before the
// transport is closed; Connection does that translation, not this
// package.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("envelope: parse error: %s", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decode parses a wire-format JSON envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &e, nil
}

// Encode serializes an envelope to wire-format JSON.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}
