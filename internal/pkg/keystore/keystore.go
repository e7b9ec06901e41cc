// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package keystore persists and retrieves the long-term shared secret
// (the KeyContainer) that makes reconnection without a fresh SRP
// handshake possible, at one of three security tiers, on top of the
// host's process-wide config bag.
//
// There is no XML-handling library anywhere in the retrieval pack (see
// DESIGN.md for the stdlib-use justification); the sealing primitive
// for Tier 2, however, is a real ecosystem dependency:
// golang.org/x/crypto/nacl/secretbox, the same authenticated-encryption
// primitive _examples/Rudd-O-curvetls wraps its own wire protocol
// around (see seal.go).
package keystore

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"gopkg.in/inconshreveable/log15.v2"

	"github.com/keepassrpc/sessioncore/internal/pkg/configbag"
)

// SecurityLevel selects the persistence strategy for a KeyContainer.
type SecurityLevel int

const (
	// TierUnset/TierHigh: do not persist; the user must re-pair.
	TierUnset SecurityLevel = 0
	TierLow   SecurityLevel = 1
	TierMedium SecurityLevel = 2
	TierHigh  SecurityLevel = 3
)

// KeyContainer is the persisted record of a paired client's long-term
// key, username, display name, and expiry.
type KeyContainer struct {
	Key         string // hex-encoded 32 random bytes
	Username    string
	ClientName  string
	AuthExpires time.Time
}

// exploitMarkerKey is SHA-256("0") — a known artefact of a historical
// client-side bug that left this literal value stored as a "key".
// A container carrying it is treated as compromised, never as a valid
// long-term secret.
const exploitMarkerKey = "5feceb66ffc86f38d952786c6d696c79c2dbc239dd4e91b46729d73a27fb57e9"

func init() {
	// Documents the derivation above so the constant is not a magic
	// unverifiable literal; computed once, not on every comparison.
	sum := sha256.Sum256([]byte("0"))
	if hex.EncodeToString(sum[:]) != exploitMarkerKey {
		panic("keystore: exploitMarkerKey constant does not match SHA-256(\"0\")")
	}
}

// IsExploitMarker reports whether key (hex) is the known compromised
// sentinel value.
func IsExploitMarker(key string) bool {
	return subtle.ConstantTimeCompare([]byte(key), []byte(exploitMarkerKey)) == 1
}

// configKey returns the process-wide config bag key a username's
// KeyContainer is stored under.
func configKey(username string) string {
	return "KeePassRPC.Key." + username
}

// Store persists and retrieves KeyContainers against a process-wide
// config bag, sealing Tier-2 containers with the given Sealer.
type Store struct {
	bag    configbag.Bag
	sealer Sealer
	log    log15.Logger
}

// NewStore constructs a Store. log may be nil, in which case a
// discard logger is used.
func NewStore(bag configbag.Bag, sealer Sealer, log log15.Logger) *Store {
	if log == nil {
		log = log15.New()
		log.SetHandler(log15.DiscardHandler())
	}
	return &Store{bag: bag, sealer: sealer, log: log}
}

// Put persists container at the given tier. Tier 3 (high) and Tier 0
// (unset) do not persist at all — any existing container for the
// username is left untouched, per spec.md §4.4.
//
// Supplemental: if a previously-stored container for this username was
// sealed at Tier 2 and level now asks for Tier 1, the downgrade is
// logged before the overwrite proceeds. This is not a literal spec
// requirement — it follows from spec.md's stated trust model ("the
// OS-level secret store is trusted when selected") — and never changes
// wire behavior or rejects the write.
func (s *Store) Put(container KeyContainer, level SecurityLevel) error {
	if level == TierLow && s.currentTier(container.Username) == TierMedium {
		s.log.Warn("keystore: downgrading a Tier-2 sealed key to Tier-1 plaintext storage",
			"username", container.Username)
	}

	switch level {
	case TierLow:
		return s.putTier1(container)
	case TierMedium:
		return s.putTier2(container)
	case TierHigh, TierUnset:
		return nil
	default:
		return nil
	}
}

// currentTier reports the persistence tier of the username's existing
// stored container, or TierUnset if none is stored or it cannot be
// read. It never treats an exploit-marker container specially — that
// check belongs to Get, not to this internal bookkeeping helper.
func (s *Store) currentTier(username string) SecurityLevel {
	encoded, ok := s.bag.Get(configKey(username))
	if !ok || encoded == "" {
		return TierUnset
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return TierUnset
	}
	if _, err := decodeXML(raw); err == nil {
		return TierLow
	}
	if _, err := s.sealer.Unseal(raw); err == nil {
		return TierMedium
	}
	return TierUnset
}

func (s *Store) putTier1(container KeyContainer) error {
	raw, err := encodeXML(container)
	if err != nil {
		return err
	}
	s.bag.Set(configKey(container.Username), base64.StdEncoding.EncodeToString(raw))
	s.bag.Save()
	return nil
}

func (s *Store) putTier2(container KeyContainer) error {
	raw, err := encodeXML(container)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return err
	}
	s.bag.Set(configKey(container.Username), base64.StdEncoding.EncodeToString(sealed))
	s.bag.Save()
	return nil
}

// Get retrieves the KeyContainer stored for username, if any. Any
// decoding, sealing-format, or OS-unseal failure is treated as "no
// stored key" (not an error) per spec.md §4.4, so the caller falls
// through to SRP pairing. exploitMarker is true when the stored value
// is the known compromised sentinel (spec.md §3, §8 property 8); in
// that case container is always nil and the caller must trigger the
// user-facing warning.
func (s *Store) Get(username string) (container *KeyContainer, exploitMarker bool) {
	encoded, ok := s.bag.Get(configKey(username))
	if !ok || encoded == "" {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.log.Debug("keystore: base64 decode failed", "username", username, "err", err)
		return nil, false
	}

	kc, tierErr := decodeXML(raw)
	if tierErr != nil {
		// Not plain XML: try Tier-2 unseal-then-parse.
		unsealed, err := s.sealer.Unseal(raw)
		if err != nil {
			s.log.Debug("keystore: unseal failed", "username", username, "err", err)
			return nil, false
		}
		kc, err = decodeXML(unsealed)
		if err != nil {
			s.log.Debug("keystore: xml decode failed after unseal", "username", username, "err", err)
			return nil, false
		}
	}

	if IsExploitMarker(kc.Key) {
		s.log.Warn("keystore: stored key matches known exploit marker, refusing", "username", username)
		return nil, true
	}

	return kc, false
}
