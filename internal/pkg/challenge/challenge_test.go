// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package challenge

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestHonestClientIsAuthorisedAndServerProofVerifies(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %s", err)
	}

	server := NewEngine(key)
	sc, err := server.ServerChallenge()
	if err != nil {
		t.Fatalf("ServerChallenge: %s", err)
	}

	cc := "client-nonce-123"
	cr := clientDigest("1", key, sc, cc)

	sr, err := server.Verify(cc, cr)
	if err != nil {
		t.Fatalf("Verify: %s", err)
	}

	expectedSR := clientDigest("0", key, sc, cc)
	if sr != expectedSR {
		t.Fatalf("sr = %s, want %s", sr, expectedSR)
	}
}

func TestVerifyRejectsWrongResponse(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %s", err)
	}
	server := NewEngine(key)
	sc, err := server.ServerChallenge()
	if err != nil {
		t.Fatalf("ServerChallenge: %s", err)
	}

	_, err = server.Verify("cc", "not-the-right-hex-digest")
	if err != ErrKeysDoNotMatch {
		t.Fatalf("expected ErrKeysDoNotMatch, got %v", err)
	}
	_ = sc
}

func TestServerChallengeProducesDistinctValues(t *testing.T) {
	key := make([]byte, 32)
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		e := NewEngine(key)
		sc, err := e.ServerChallenge()
		if err != nil {
			t.Fatalf("ServerChallenge: %s", err)
		}
		if seen[sc] {
			t.Fatalf("duplicate sc across engines: %s", sc)
		}
		seen[sc] = true
	}
}

func clientDigest(prefix string, key []byte, sc, cc string) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write(key)
	h.Write([]byte(sc))
	h.Write([]byte(cc))
	return hex.EncodeToString(h.Sum(nil))
}
