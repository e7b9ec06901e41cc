// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// client is a minimal example client of the rpcsession core, driving
// either a fresh SRP pairing or a stored-key reconnect against
// cmd/server over a newline-delimited JSON TCP connection. The client
// role itself is an external collaborator per spec.md §1 — this binary
// exists only to exercise the server-side core end to end.
package main

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net"
	"os"

	"github.com/keepassrpc/sessioncore"
	"github.com/keepassrpc/sessioncore/internal/pkg/envelope"
	"github.com/keepassrpc/sessioncore/internal/pkg/srp"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "%s is a simple example client of the rpcsession package. It can be used together with cmd/server.\nUsage:\n", os.Args[0])
		flag.PrintDefaults()
	}

	addr := flag.String("conn", "localhost:9999", "Host to connect to.")
	pair := flag.Bool("pair", false, "Run a fresh SRP pairing.")
	reconnect := flag.Bool("reconnect", false, "Reconnect with a previously-paired key.")
	username := flag.String("username", "", "Username.")
	password := flag.String("password", "", "Visual password shown by the server during -pair (typed in out of band in real use).")
	key := flag.String("key", "", "Hex-encoded long-term key from a prior -pair run, for -reconnect.")
	flag.Parse()

	if *pair == *reconnect {
		fmt.Fprintln(os.Stderr, "Exactly one of -pair and -reconnect must be given.")
		flag.Usage()
		os.Exit(1)
	}

	netConn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer netConn.Close()

	r := bufio.NewReader(netConn)
	w := bufio.NewWriter(netConn)
	version := rpcsession.VersionToken(1, 0, 0)

	if *pair {
		if err := doPair(r, w, version, *username, *password); err != nil {
			fmt.Fprintf(os.Stderr, "pair: %s\n", err)
			os.Exit(1)
		}
		return
	}

	rawKey, err := hex.DecodeString(*key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconnect: invalid -key: %s\n", err)
		os.Exit(1)
	}
	if err := doReconnect(r, w, version, *username, rawKey); err != nil {
		fmt.Fprintf(os.Stderr, "reconnect: %s\n", err)
		os.Exit(1)
	}
}

func writeEnvelope(w *bufio.Writer, env *envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return err
	}
	return w.Flush()
}

func readEnvelope(r *bufio.Reader) (*envelope.Envelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return envelope.Decode(line[:len(line)-1])
}

// doPair drives spec.md §8 scenario S1. The "visual password" would
// normally be read off a second device by the user; here it is passed
// in directly via -password for the demo.
func doPair(r *bufio.Reader, w *bufio.Writer, version int32, username, password string) error {
	params := srp.DefaultParams()
	a, err := randBigInt(params.N)
	if err != nil {
		return err
	}
	A := new(big.Int).Exp(params.G, a, params.N)

	identify := &envelope.Envelope{
		Protocol:          envelope.ProtocolSetup,
		Version:           version,
		ClientDisplayName: "rpcsession example client",
		SRP: &envelope.SRP{
			Stage:         envelope.StageIdentifyToServer,
			I:             username,
			A:             envelope.NewHexBig(A),
			SecurityLevel: 2,
		},
	}
	if err := writeEnvelope(w, identify); err != nil {
		return err
	}

	resp, err := readEnvelope(r)
	if err != nil {
		return err
	}
	if resp.ErrorPayload != nil {
		return fmt.Errorf("server error %d: %v", resp.ErrorPayload.Code, resp.ErrorPayload.MessageParams)
	}
	if resp.SRP == nil || resp.SRP.Stage != envelope.StageIdentifyToClient {
		return fmt.Errorf("unexpected reply: %+v", resp)
	}

	m1, K := clientM1(params, username, password, a, A, resp.SRP.S.Int(), resp.SRP.B.Int())

	proof := &envelope.Envelope{
		Protocol: envelope.ProtocolSetup,
		Version:  version,
		SRP: &envelope.SRP{
			Stage:         envelope.StageProofToServer,
			M:             envelope.NewHexBig(m1),
			SecurityLevel: 2,
		},
	}
	if err := writeEnvelope(w, proof); err != nil {
		return err
	}

	resp, err = readEnvelope(r)
	if err != nil {
		return err
	}
	if resp.ErrorPayload != nil {
		return fmt.Errorf("server error %d: %v", resp.ErrorPayload.Code, resp.ErrorPayload.MessageParams)
	}
	if resp.SRP == nil || resp.SRP.Stage != envelope.StageProofToClient || resp.SRP.M2 == nil {
		return fmt.Errorf("unexpected reply: %+v", resp)
	}

	fmt.Printf("paired successfully; long-term key (pass to -reconnect -key): %x\n", K)
	return nil
}

// doReconnect drives spec.md §8 scenario S2, using the long-term key
// from a prior -pair run.
func doReconnect(r *bufio.Reader, w *bufio.Writer, version int32, username string, rawKey []byte) error {
	initEnv := &envelope.Envelope{
		Protocol: envelope.ProtocolSetup,
		Version:  version,
		Key:      &envelope.Key{Username: username, SecurityLevel: 2},
	}
	if err := writeEnvelope(w, initEnv); err != nil {
		return err
	}

	resp, err := readEnvelope(r)
	if err != nil {
		return err
	}
	if resp.ErrorPayload != nil {
		return fmt.Errorf("server error %d: %v", resp.ErrorPayload.Code, resp.ErrorPayload.MessageParams)
	}
	if resp.Key == nil || resp.Key.SC == "" {
		return fmt.Errorf("unexpected reply: %+v", resp)
	}

	ccBytes := make([]byte, 16)
	if _, err := rand.Read(ccBytes); err != nil {
		return err
	}
	sc := resp.Key.SC
	cc := hex.EncodeToString(ccBytes)
	cr := challengeDigest("1", rawKey, sc, cc)

	respEnv := &envelope.Envelope{
		Protocol: envelope.ProtocolSetup,
		Version:  version,
		Key:      &envelope.Key{CC: cc, CR: cr, SecurityLevel: 2},
	}
	if err := writeEnvelope(w, respEnv); err != nil {
		return err
	}

	resp, err = readEnvelope(r)
	if err != nil {
		return err
	}
	if resp.ErrorPayload != nil {
		return fmt.Errorf("server error %d: %v", resp.ErrorPayload.Code, resp.ErrorPayload.MessageParams)
	}
	wantSR := challengeDigest("0", rawKey, sc, cc)
	if resp.Key == nil || resp.Key.SR != wantSR {
		return fmt.Errorf("server proof mismatch")
	}
	fmt.Println("reconnected successfully")
	return nil
}

// challengeDigest mirrors internal/pkg/challenge's domain-separated
// construction. It is duplicated here (rather than importing that
// internal package's unexported helper) because the client role does
// not own a challenge.Engine — only the server does.
func challengeDigest(prefix string, rawKey []byte, sc, cc string) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write(rawKey)
	h.Write([]byte(sc))
	h.Write([]byte(cc))
	return hex.EncodeToString(h.Sum(nil))
}

// clientM1 runs the client side of SRP-6a's key derivation, mirroring
// internal/pkg/srp/srp_test.go's clientHandshake — that test-only type
// cannot be imported from here, so the same formula is reimplemented
// against the client's own exponent a and public value A.
func clientM1(params srp.Params, username, password string, a, A, salt, serverB *big.Int) (m1 *big.Int, K []byte) {
	pad := func(x *big.Int) []byte {
		n := (params.N.BitLen() + 7) / 8
		b := x.Bytes()
		if len(b) >= n {
			return b
		}
		out := make([]byte, n)
		copy(out[n-len(b):], b)
		return out
	}
	hashBytes := func(data ...[]byte) []byte {
		h := sha256.New()
		for _, d := range data {
			h.Write(d)
		}
		return h.Sum(nil)
	}
	hashBig := func(data ...[]byte) *big.Int { return new(big.Int).SetBytes(hashBytes(data...)) }

	k := hashBig(pad(params.N), pad(params.G))
	inner := hashBytes([]byte(username), []byte(":"), []byte(password))
	x := hashBig(salt.Bytes(), inner)

	u := hashBig(pad(A), pad(serverB))

	gx := new(big.Int).Exp(params.G, x, params.N)
	t0 := new(big.Int).Mod(new(big.Int).Mul(k, gx), params.N)
	t1 := new(big.Int).Mod(new(big.Int).Sub(serverB, t0), params.N)
	t2 := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(t1, t2, params.N)
	K = hashBytes(S.Bytes())

	hn := hashBytes(pad(params.N))
	hg := hashBytes(pad(params.G))
	hi := hashBytes([]byte(username))
	m1Bytes := hashBytes(xorBytes(hn, hg), hi, salt.Bytes(), A.Bytes(), serverB.Bytes(), K)
	return new(big.Int).SetBytes(m1Bytes), K
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
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
