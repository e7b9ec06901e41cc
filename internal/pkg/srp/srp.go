// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package srp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"math/big"
)

// FieldError reports a missing or malformed SRP wire field. Engine
// callers (the connection state machine) translate this 1:1 into the
// wire AUTH_MISSING_PARAM error, naming the offending field.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string { return fmt.Sprintf("srp: missing field %q", e.Field) }

// ErrKeysDoNotMatch is returned by Authenticate when the client's proof
// M does not match the server's own M1.
var ErrKeysDoNotMatch = fmt.Errorf("srp: keys do not match")

// ErrInvalidPublicValue is returned by Handshake when A mod N == 0, the
// textbook SRP degenerate-A attack.
var ErrInvalidPublicValue = fmt.Errorf("srp: A mod N == 0")

// ServerSession tracks the state of one SRP-6a server-role handshake.
// It exists only for the lifetime of one handshake and is discarded
// (by the caller constructing a fresh one) on failure — a second
// identifyToServer on the same connection therefore naturally resets
// the engine, matching spec.md §4.2's tie-break.
type ServerSession struct {
	params Params

	i string
	a *big.Int
	b *big.Int
	v *big.Int
	s *big.Int
	k *big.Int

	serverB *big.Int
	key     []byte
	m1      []byte
	m2      []byte

	authenticated bool
}

// NewServerSession constructs an engine for one handshake over the
// given group.
func NewServerSession(params Params) *ServerSession {
	k := hashBig(params.pad(params.N), params.pad(params.G))
	return &ServerSession{params: params, k: k}
}

// NewVisualPassword generates a fresh 32-bit random visual password for
// username I, derives the salt s and verifier v from it
// (x = H(salt || H(I || ":" || password)), v = g^x mod N), and retains
// s and v on the session for the handshake about to run.
//
// The returned password string is for display to the user via the
// external dialog collaborator only — it is never part of any wire
// message.
func (sess *ServerSession) NewVisualPassword(i string) (password string, err error) {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("srp: generating visual password: %w", err)
	}
	password = formatVisualPassword(raw)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("srp: generating salt: %w", err)
	}

	sess.i = i
	sess.s = new(big.Int).SetBytes(salt)

	// x is derived from sess.s.Bytes(), the exact big-endian
	// representation that goes out on the wire (via HexBig), not from
	// the original random buffer — SetBytes/Bytes strip leading zero
	// bytes, and a client reconstructing x from the wire salt must
	// land on the same input or K will never match.
	inner := hashBytes([]byte(i), []byte(":"), []byte(password))
	x := hashBig(sess.s.Bytes(), inner)
	sess.v = new(big.Int).Exp(sess.params.G, x, sess.params.N)
	return password, nil
}

// formatVisualPassword renders 4 random bytes as a short, human-typable
// string, using a padding-free base32 alphabet (no ambiguous
// look-alike characters) grouped for readability.
func formatVisualPassword(raw [4]byte) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
	if len(enc) < 4 {
		return enc
	}
	mid := len(enc) / 2
	return enc[:mid] + "-" + enc[mid:]
}

// Handshake runs the server side of the SRP-6a key-exchange round: it
// validates A, generates the server's ephemeral b and public value B,
// and derives the shared session key K and both evidence messages
// M1/M2 ahead of time (M2 is only ever revealed after Authenticate
// succeeds).
//
// NewVisualPassword must have been called first, with the same
// username I, so the session has a salt and verifier to hand off.
func (sess *ServerSession) Handshake(i string, a *big.Int) (s, b *big.Int, err error) {
	if i == "" {
		return nil, nil, &FieldError{Field: "I"}
	}
	if a == nil || a.Sign() == 0 {
		return nil, nil, &FieldError{Field: "A"}
	}
	if sess.v == nil || sess.s == nil || sess.i != i {
		return nil, nil, fmt.Errorf("srp: no visual password generated for %q", i)
	}
	if new(big.Int).Mod(a, sess.params.N).Sign() == 0 {
		return nil, nil, ErrInvalidPublicValue
	}

	sess.a = a

	priv, err := randBigInt(sess.params.N)
	if err != nil {
		return nil, nil, err
	}
	sess.b = priv

	// B = k*v + g^b mod N
	t1 := new(big.Int).Mul(sess.k, sess.v)
	t2 := new(big.Int).Exp(sess.params.G, sess.b, sess.params.N)
	serverB := new(big.Int).Mod(new(big.Int).Add(t1, t2), sess.params.N)
	sess.serverB = serverB

	// u = H(A || B)
	u := hashBig(sess.params.pad(a), sess.params.pad(serverB))

	// S = (A * v^u)^b mod N
	t3 := new(big.Int).Exp(sess.v, u, sess.params.N)
	t4 := new(big.Int).Mod(new(big.Int).Mul(a, t3), sess.params.N)
	S := new(big.Int).Exp(t4, sess.b, sess.params.N)

	K := hashBytes(S.Bytes())
	sess.key = K

	// M1 = H(H(N) xor H(g), H(I), s, A, B, K)
	hn := hashBytes(sess.params.pad(sess.params.N))
	hg := hashBytes(sess.params.pad(sess.params.G))
	hi := hashBytes([]byte(i))
	sess.m1 = hashBytes(xorBytes(hn, hg), hi, sess.s.Bytes(), a.Bytes(), serverB.Bytes(), K)

	// M2 = H(A || M1 || K)
	sess.m2 = hashBytes(a.Bytes(), sess.m1, K)

	return sess.s, serverB, nil
}

// Authenticate compares the client-supplied proof M against the
// server's own M1 in constant time. On success it marks the session
// authenticated and exposes M2 and the hex-encoded session key; on
// mismatch it returns ErrKeysDoNotMatch and leaves the session
// unauthenticated.
func (sess *ServerSession) Authenticate(m *big.Int) (ok bool, err error) {
	if m == nil {
		return false, &FieldError{Field: "M"}
	}
	if sess.m1 == nil {
		return false, fmt.Errorf("srp: Handshake must run before Authenticate")
	}
	// M travels as a big integer, which drops leading zero bytes; pad
	// it back to M1's width before comparing.
	mb := m.Bytes()
	if len(mb) < len(sess.m1) {
		mb = append(make([]byte, len(sess.m1)-len(mb)), mb...)
	}
	if subtle.ConstantTimeCompare(mb, sess.m1) != 1 {
		sess.authenticated = false
		return false, ErrKeysDoNotMatch
	}
	sess.authenticated = true
	return true, nil
}

// M2 returns the server's proof-to-client, only valid after a
// successful Authenticate.
func (sess *ServerSession) M2() *big.Int {
	if !sess.authenticated {
		return nil
	}
	return new(big.Int).SetBytes(sess.m2)
}

// KeyHex returns the derived session key K as a lowercase hex string,
// only valid after a successful Authenticate. This is the value that
// seeds the long-term KeyContainer.
func (sess *ServerSession) KeyHex() string {
	if !sess.authenticated {
		return ""
	}
	return fmt.Sprintf("%x", sess.key)
}

func randBigInt(max *big.Int) (*big.Int, error) {
	for {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, err
		}
		if n.Sign() != 0 {
			return n, nil
		}
	}
}
