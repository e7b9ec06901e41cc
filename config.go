// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcsession

import (
	"time"

	"github.com/keepassrpc/sessioncore/internal/pkg/keystore"
)

// Config is the immutable, explicitly-constructed configuration spec.md
// §9 ("Global lazy protocol version") calls for in place of a
// process-wide lazily-initialized global: built once at startup from
// the build's semantic version, and passed into every Connection.
type Config struct {
	// Version is the server's own computed version token (see
	// VersionToken).
	Version int32

	// RequiredFeatures is the server's required-features set: a client
	// whose version token mismatches Version is still let through if
	// its advertised features cover every entry here.
	RequiredFeatures []string

	// SecurityLevel is this host's own configured persistence tier
	// preference (KeePassRPC.SecurityLevel, default 2). The tier a
	// freshly-paired KeyContainer is actually persisted at is the
	// minimum of this and the client's declared securityLevel, so the
	// server never persists at a tier the client didn't ask to support.
	SecurityLevel keystore.SecurityLevel

	// SecurityLevelClientMinimum is the minimum securityLevel a setup
	// envelope must declare to be accepted (KeePassRPC.SecurityLevelClientMinimum,
	// default 2).
	SecurityLevelClientMinimum int

	// AuthorisationExpiry is how long a freshly-persisted KeyContainer
	// remains valid (KeePassRPC.AuthorisationExpiryTime, default 365 days).
	AuthorisationExpiry time.Duration
}

// DefaultConfig returns a Config with the spec-mandated defaults, for
// the given version token.
func DefaultConfig(version int32) Config {
	return Config{
		Version:                     version,
		SecurityLevel:               keystore.TierMedium,
		SecurityLevelClientMinimum:  2,
		AuthorisationExpiry:         365 * 24 * time.Hour,
	}
}

// hasAllRequiredFeatures reports whether advertised covers every entry
// of required.
func hasAllRequiredFeatures(advertised, required []string) bool {
	have := make(map[string]bool, len(advertised))
	for _, f := range advertised {
		have[f] = true
	}
	for _, f := range required {
		if !have[f] {
			return false
		}
	}
	return true
}
