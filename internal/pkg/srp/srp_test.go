// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package srp

import (
	"math/big"
	"testing"
)

// clientHandshake is a minimal, test-only SRP-6a client used to drive
// the server engine through a full honest round, and to exercise the
// soundness checks from the attacker's side. It deliberately lives only
// in the test file: spec.md §4.2 scopes this package to the server
// role.
type clientHandshake struct {
	params   Params
	username string
	password string
	a        *big.Int
	A        *big.Int
}

func newClientHandshake(params Params, username, password string) (*clientHandshake, error) {
	priv, err := randBigInt(params.N)
	if err != nil {
		return nil, err
	}
	A := new(big.Int).Exp(params.G, priv, params.N)
	return &clientHandshake{params: params, username: username, password: password, a: priv, A: A}, nil
}

func (c *clientHandshake) deriveM1(salt, serverB *big.Int) *big.Int {
	k := hashBig(c.params.pad(c.params.N), c.params.pad(c.params.G))
	inner := hashBytes([]byte(c.username), []byte(":"), []byte(c.password))
	x := hashBig(salt.Bytes(), inner)

	u := hashBig(c.params.pad(c.A), c.params.pad(serverB))

	gx := new(big.Int).Exp(c.params.G, x, c.params.N)
	t0 := new(big.Int).Mod(new(big.Int).Mul(k, gx), c.params.N)
	t1 := new(big.Int).Sub(serverB, t0)
	t1.Mod(t1, c.params.N)

	t2 := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(t1, t2, c.params.N)

	K := hashBytes(S.Bytes())

	hn := hashBytes(c.params.pad(c.params.N))
	hg := hashBytes(c.params.pad(c.params.G))
	hi := hashBytes([]byte(c.username))
	m1 := hashBytes(xorBytes(hn, hg), hi, salt.Bytes(), c.A.Bytes(), serverB.Bytes(), K)
	return new(big.Int).SetBytes(m1)
}

func TestHonestHandshakeCompletesAndDerivesSameKey(t *testing.T) {
	params := DefaultParams()
	server := NewServerSession(params)

	username, password := "alice", "correct horse battery staple"
	visual, err := server.NewVisualPassword(username)
	if err != nil {
		t.Fatalf("NewVisualPassword: %s", err)
	}
	if visual == "" {
		t.Fatal("expected non-empty visual password")
	}
	_ = password

	client, err := newClientHandshake(params, username, visual)
	if err != nil {
		t.Fatalf("newClientHandshake: %s", err)
	}

	salt, serverB, err := server.Handshake(username, client.A)
	if err != nil {
		t.Fatalf("Handshake: %s", err)
	}

	m1 := client.deriveM1(salt, serverB)

	ok, err := server.Authenticate(m1)
	if err != nil || !ok {
		t.Fatalf("Authenticate: ok=%v err=%v", ok, err)
	}

	if server.M2() == nil {
		t.Fatal("expected non-nil M2 after successful auth")
	}
	if server.KeyHex() == "" {
		t.Fatal("expected non-empty key hex after successful auth")
	}
}

func TestHandshakeRejectsZeroA(t *testing.T) {
	params := DefaultParams()
	server := NewServerSession(params)
	if _, err := server.NewVisualPassword("bob"); err != nil {
		t.Fatalf("NewVisualPassword: %s", err)
	}

	zero := new(big.Int).Mul(params.N, big.NewInt(3)) // A mod N == 0
	if _, _, err := server.Handshake("bob", zero); err != ErrInvalidPublicValue {
		t.Fatalf("expected ErrInvalidPublicValue, got %v", err)
	}
}

func TestHandshakeRejectsMissingFields(t *testing.T) {
	params := DefaultParams()
	server := NewServerSession(params)
	if _, err := server.NewVisualPassword("carol"); err != nil {
		t.Fatalf("NewVisualPassword: %s", err)
	}

	if _, _, err := server.Handshake("", big.NewInt(1)); err == nil {
		t.Fatal("expected FieldError for missing I")
	}
	if _, _, err := server.Handshake("carol", nil); err == nil {
		t.Fatal("expected FieldError for missing A")
	}
}

func TestAuthenticateRejectsWrongProof(t *testing.T) {
	params := DefaultParams()
	server := NewServerSession(params)
	username, password := "dave", "s3cr3t"
	visual, err := server.NewVisualPassword(username)
	if err != nil {
		t.Fatalf("NewVisualPassword: %s", err)
	}
	_ = password

	client, err := newClientHandshake(params, username, visual)
	if err != nil {
		t.Fatalf("newClientHandshake: %s", err)
	}
	if _, _, err := server.Handshake(username, client.A); err != nil {
		t.Fatalf("Handshake: %s", err)
	}

	wrongM1 := big.NewInt(42)
	ok, err := server.Authenticate(wrongM1)
	if ok || err != ErrKeysDoNotMatch {
		t.Fatalf("expected ErrKeysDoNotMatch, got ok=%v err=%v", ok, err)
	}
	if server.M2() != nil {
		t.Fatal("expected nil M2 after failed auth")
	}
}
