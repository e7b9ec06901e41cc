// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcsession

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"gopkg.in/inconshreveable/log15.v2"

	"github.com/keepassrpc/sessioncore/internal/pkg/challenge"
	"github.com/keepassrpc/sessioncore/internal/pkg/cipher"
	"github.com/keepassrpc/sessioncore/internal/pkg/envelope"
	"github.com/keepassrpc/sessioncore/internal/pkg/keystore"
	"github.com/keepassrpc/sessioncore/internal/pkg/srp"
	"github.com/keepassrpc/sessioncore/internal/pkg/uihost"
)

type state int

const (
	stateAwaitSetup state = iota
	stateAuthorised
)

// Dispatcher is the RPC method dispatch collaborator: once a jsonrpc
// envelope has been decrypted, its plaintext is handed to Dispatch and
// whatever it returns is encrypted back to the client. Method dispatch
// and the secret-store lookups behind it are out of scope for this
// core (spec.md §1) — Dispatcher is the narrow seam that keeps them
// out.
type Dispatcher interface {
	Dispatch(plaintext []byte) ([]byte, error)
}

// NoopDispatcher acknowledges every RPC payload with an empty
// response, useful for tests and for the cmd/ example harnesses.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(plaintext []byte) ([]byte, error) { return []byte("{}"), nil }

// Connection owns one transport's worth of state, from the moment the
// transport opens until it closes. It is NOT safe for concurrent use
// except for the Authorised() query, which may be called from an
// outbound signal task while HandleMessage runs on the inbound task
// (spec.md §5).
type Connection struct {
	cfg        Config
	host       uihost.Host
	store      *keystore.Store
	dispatcher Dispatcher
	log        log15.Logger

	state state

	authorised atomic.Bool

	featuresSet bool
	features    []string

	srpSession *srp.ServerSession
	srpUsername string

	chalEngine    *challenge.Engine
	chalUsername  string
	chalContainer *keystore.KeyContainer

	sessionKey []byte // raw 32-byte long-term key once authorised
	username   string
	clientName string

	signals chan []byte
	done    chan struct{}
}

// New constructs a Connection for a freshly-opened transport.
// dispatcher may be nil, in which case NoopDispatcher is used.
func New(cfg Config, host uihost.Host, store *keystore.Store, dispatcher Dispatcher, log log15.Logger) *Connection {
	if dispatcher == nil {
		dispatcher = NoopDispatcher{}
	}
	if log == nil {
		log = log15.New()
		log.SetHandler(log15.DiscardHandler())
	}
	c := &Connection{
		cfg:        cfg,
		host:       host,
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		state:      stateAwaitSetup,
		signals:    make(chan []byte, 8),
		done:       make(chan struct{}),
	}
	return c
}

// Authorised reports whether this connection has completed a
// handshake. Safe to call concurrently with HandleMessage.
func (c *Connection) Authorised() bool { return c.authorised.Load() }

// Done returns a channel that is closed once Close has been called, so
// a transport-owning loop forwarding Signals() knows when to stop.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close closes the Done channel, which stops a loop forwarding Signals()
// and makes a SendSignal blocked on a full channel return. In-flight
// handshake state is discarded; connection close is the only
// cancellation signal this layer defines (spec.md §5).
func (c *Connection) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// HandleMessage decodes one inbound wire message, advances the
// connection's state machine, and returns the bytes (if any) to send
// back. shouldClose is true only for a malformed-envelope parse
// failure, per spec.md §4.1 ("before the transport is closed").
func (c *Connection) HandleMessage(raw []byte) (reply []byte, shouldClose bool) {
	env, err := envelope.Decode(raw)
	if err != nil {
		c.log.Warn("invalid message", "err", err)
		return c.encodeError(ErrInvalidMessage, nil), true
	}

	if !c.recordFeaturesOnFirstSight(env) {
		// Immutability invariant violated; treat as a no-op protocol
		// error rather than tearing down the transport.
		c.log.Warn("client attempted to change an already-declared feature list")
	}

	if reply := c.versionGate(env); reply != nil {
		return reply, false
	}

	switch c.state {
	case stateAwaitSetup:
		return c.handleAwaitSetup(env), false
	case stateAuthorised:
		return c.handleAuthorised(env), false
	default:
		return nil, false
	}
}

func (c *Connection) recordFeaturesOnFirstSight(env *envelope.Envelope) bool {
	if env.Features == nil {
		return true
	}
	if !c.featuresSet {
		c.features = env.Features
		c.featuresSet = true
		return true
	}
	return equalStringSlices(c.features, env.Features)
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// versionGate implements spec.md §4.6's pre-dispatch version/feature
// check. It returns a non-nil reply iff the request must be rejected.
func (c *Connection) versionGate(env *envelope.Envelope) []byte {
	if env.Version == c.cfg.Version {
		return nil
	}
	if hasAllRequiredFeatures(c.features, c.cfg.RequiredFeatures) {
		return nil
	}
	return c.encodeError(ErrVersionClientTooLow, []string{fmt.Sprint(c.cfg.Version)})
}

// securityLevelGate implements spec.md §4.6's security-level check,
// which applies to every setup envelope.
func (c *Connection) securityLevelGate(level int) []byte {
	if level >= c.cfg.SecurityLevelClientMinimum {
		return nil
	}
	return c.encodeError(ErrAuthClientSecurityLevelTooLow, []string{fmt.Sprint(c.cfg.SecurityLevelClientMinimum)})
}

func (c *Connection) handleAwaitSetup(env *envelope.Envelope) []byte {
	if env.Protocol != envelope.ProtocolSetup {
		return c.encodeError(ErrUnrecognisedProtocol, nil)
	}

	switch {
	case env.SRP != nil:
		if reply := c.securityLevelGate(env.SRP.SecurityLevel); reply != nil {
			return reply
		}
		return c.handleSRP(env)
	case env.Key != nil:
		if reply := c.securityLevelGate(env.Key.SecurityLevel); reply != nil {
			return reply
		}
		return c.handleKey(env)
	default:
		// No recognised setup shape; nothing to do.
		return nil
	}
}

func (c *Connection) handleSRP(env *envelope.Envelope) []byte {
	switch env.SRP.Stage {
	case envelope.StageIdentifyToServer:
		return c.handleIdentifyToServer(env)
	case envelope.StageProofToServer:
		return c.handleProofToServer(env)
	default:
		// Any other stage is silently dropped. A proofToServer before
		// identifyToServer is dropped by handleProofToServer.
		return nil
	}
}

func (c *Connection) handleIdentifyToServer(env *envelope.Envelope) []byte {
	username := env.SRP.I

	// A second identifyToServer on the same connection resets the
	// engine (spec.md §4.2 tie-break).
	c.srpSession = srp.NewServerSession(srp.DefaultParams())
	c.srpUsername = username

	visualPassword, err := c.srpSession.NewVisualPassword(username)
	if err != nil {
		c.log.Error("failed to generate visual password", "err", err)
		return c.encodeError(ErrAuthFailed, []string{"Internal error"})
	}

	c.host.Post(func() {
		c.host.PostModalDialog(uihost.PairingRequest{
			ClientDisplayName:        sanitizeDisplayString(env.ClientDisplayName),
			ClientDisplayDescription: sanitizeDisplayString(env.ClientDisplayDescription),
			VisualPassword:           visualPassword,
		})
	})

	s, B, err := c.srpSession.Handshake(username, env.SRP.A.Int())
	if err != nil {
		c.srpSession = nil
		return c.srpError(err)
	}

	reply := c.newEnvelope(envelope.ProtocolSetup)
	reply.SRP = &envelope.SRP{
		Stage:         envelope.StageIdentifyToClient,
		S:             envelope.NewHexBig(s),
		B:             envelope.NewHexBig(B),
		SecurityLevel: int(c.cfg.SecurityLevel),
	}
	return c.mustEncode(reply)
}

func (c *Connection) handleProofToServer(env *envelope.Envelope) []byte {
	if c.srpSession == nil {
		// No identifyToServer ran yet; drop silently.
		return nil
	}
	if env.SRP.M == nil {
		return c.encodeError(ErrAuthMissingParam, []string{"M"})
	}

	ok, err := c.srpSession.Authenticate(env.SRP.M.Int())
	if err != nil || !ok {
		c.srpSession = nil
		return c.encodeError(ErrAuthFailed, []string{"Keys do not match"})
	}

	m2 := c.srpSession.M2()
	rawKey, err := hex.DecodeString(c.srpSession.KeyHex())
	if err != nil {
		return c.encodeError(ErrAuthFailed, []string{"Internal error"})
	}

	c.sessionKey = rawKey
	c.username = c.srpUsername
	c.clientName = sanitizeDisplayString(env.ClientDisplayName)

	c.persistKeyContainer(env.SRP.SecurityLevel)

	c.authorised.Store(true)
	c.state = stateAuthorised
	c.srpSession = nil

	reply := c.newEnvelope(envelope.ProtocolSetup)
	reply.SRP = &envelope.SRP{
		Stage:         envelope.StageProofToClient,
		M2:            envelope.NewHexBig(m2),
		SecurityLevel: int(c.cfg.SecurityLevel),
	}
	return c.mustEncode(reply)
}

func (c *Connection) srpError(err error) []byte {
	if fe, ok := err.(*srp.FieldError); ok {
		return c.encodeError(ErrAuthMissingParam, []string{fe.Field})
	}
	return c.encodeError(ErrAuthFailed, []string{err.Error()})
}

func (c *Connection) persistKeyContainer(clientLevel int) {
	level := c.cfg.SecurityLevel
	if clientLevel >= 0 && clientLevel < int(level) {
		level = keystore.SecurityLevel(clientLevel)
	}

	kc := keystore.KeyContainer{
		Key:         hex.EncodeToString(c.sessionKey),
		Username:    c.username,
		ClientName:  c.clientName,
		AuthExpires: time.Now().Add(c.cfg.AuthorisationExpiry),
	}
	// Put saves the config bag, so it runs on the UI thread.
	c.host.Post(func() {
		if err := c.store.Put(kc, level); err != nil {
			c.log.Error("failed to persist key container", "username", kc.Username, "err", err)
		}
	})
}

func (c *Connection) handleKey(env *envelope.Envelope) []byte {
	switch {
	case env.Key.CC != "" && env.Key.CR != "":
		return c.handleChallengeResponse(env)
	case env.Key.Username != "":
		return c.handleChallengeInit(env)
	default:
		return nil
	}
}

func (c *Connection) handleChallengeInit(env *envelope.Envelope) []byte {
	username := env.Key.Username
	kc, exploitMarker := c.store.Get(username)
	if exploitMarker {
		c.host.Warn(fmt.Sprintf("stored key for %q matches a known compromised value and was refused", username))
		return c.encodeError(ErrAuthFailed, []string{"Stored key not found"})
	}
	if kc == nil {
		return c.encodeError(ErrAuthFailed, []string{"Stored key not found"})
	}
	if kc.Username != username {
		return c.encodeError(ErrAuthFailed, []string{"Stored key not found"})
	}
	if time.Now().After(kc.AuthExpires) {
		return c.encodeError(ErrAuthExpired, nil)
	}

	rawKey, err := hex.DecodeString(kc.Key)
	if err != nil {
		return c.encodeError(ErrAuthFailed, []string{"Stored key not found"})
	}

	c.chalEngine = challenge.NewEngine(rawKey)
	c.chalUsername = username
	c.chalContainer = kc

	sc, err := c.chalEngine.ServerChallenge()
	if err != nil {
		c.log.Error("failed to generate server challenge", "err", err)
		return c.encodeError(ErrAuthFailed, []string{"Internal error"})
	}

	reply := c.newEnvelope(envelope.ProtocolSetup)
	reply.Key = &envelope.Key{
		SC:            sc,
		SecurityLevel: int(c.cfg.SecurityLevel),
	}
	return c.mustEncode(reply)
}

func (c *Connection) handleChallengeResponse(env *envelope.Envelope) []byte {
	if c.chalEngine == nil {
		return nil
	}
	sr, err := c.chalEngine.Verify(env.Key.CC, env.Key.CR)
	if err != nil {
		c.chalEngine = nil
		return c.encodeError(ErrAuthFailed, []string{"Keys do not match"})
	}

	c.sessionKey, _ = hex.DecodeString(c.chalContainer.Key)
	c.username = c.chalUsername
	c.clientName = c.chalContainer.ClientName
	c.authorised.Store(true)
	c.state = stateAuthorised
	c.chalEngine = nil

	reply := c.newEnvelope(envelope.ProtocolSetup)
	reply.Key = &envelope.Key{
		SR:            sr,
		SecurityLevel: int(c.cfg.SecurityLevel),
	}
	return c.mustEncode(reply)
}

func (c *Connection) handleAuthorised(env *envelope.Envelope) []byte {
	switch env.Protocol {
	case envelope.ProtocolJSONRPC:
		return c.handleJSONRPC(env)
	case envelope.ProtocolSetup:
		// The client is instructed to restart pairing explicitly; the
		// connection remains authorised (spec.md §4.6).
		return c.encodeError(ErrAuthRestart, nil)
	default:
		return c.encodeError(ErrUnrecognisedProtocol, nil)
	}
}

func (c *Connection) handleJSONRPC(env *envelope.Envelope) []byte {
	if env.JSONRPC == nil {
		return c.encodeError(ErrInvalidMessage, nil)
	}

	plaintext, err := cipher.Decrypt(c.sessionKey, &cipher.Message{
		IV:      env.JSONRPC.IV,
		Message: env.JSONRPC.Message,
		HMAC:    env.JSONRPC.HMAC,
	})
	if err != nil {
		// A corrupt key renders the channel unusable; force re-pairing.
		c.authorised.Store(false)
		c.state = stateAwaitSetup
		c.sessionKey = nil
		return c.encodeError(ErrAuthRestart, nil)
	}

	response, err := c.dispatcher.Dispatch(plaintext)
	if err != nil {
		c.log.Warn("rpc dispatch failed", "err", err)
		return nil
	}

	msg, err := cipher.Encrypt(c.sessionKey, response)
	if err != nil {
		c.log.Error("failed to encrypt rpc response", "err", err)
		return nil
	}

	reply := c.newEnvelope(envelope.ProtocolJSONRPC)
	reply.JSONRPC = &envelope.JSONRPC{IV: msg.IV, Message: msg.Message, HMAC: msg.HMAC}
	return c.mustEncode(reply)
}

// SendSignal composes a server-initiated notification (e.g. a
// database-opened event), encrypts it under the current session key,
// and queues it on the outbound Signals channel for the owning
// transport loop to send — never writing to the transport directly
// from the caller's task, per spec.md §5.
func (c *Connection) SendSignal(payload []byte) error {
	if !c.Authorised() {
		return fmt.Errorf("rpcsession: connection is not authorised")
	}
	msg, err := cipher.Encrypt(c.sessionKey, payload)
	if err != nil {
		return err
	}
	env := c.newEnvelope(envelope.ProtocolJSONRPC)
	env.JSONRPC = &envelope.JSONRPC{IV: msg.IV, Message: msg.Message, HMAC: msg.HMAC}
	encoded := c.mustEncode(env)

	select {
	case c.signals <- encoded:
		return nil
	case <-c.done:
		return fmt.Errorf("rpcsession: connection closed")
	}
}

// Signals exposes the channel the outbound send worker drains. This
// package owns no transport, so the short-lived send task spec.md §5
// describes is the owning transport loop selecting on Signals() and
// Done() (see cmd/server's forwardSignals) — SendSignal itself never
// blocks on that loop, only on the buffered channel filling up or the
// connection closing.
func (c *Connection) Signals() <-chan []byte { return c.signals }

func (c *Connection) newEnvelope(protocol envelope.Protocol) *envelope.Envelope {
	return &envelope.Envelope{Protocol: protocol, Version: c.cfg.Version}
}

func (c *Connection) encodeError(code int, params []string) []byte {
	env := c.newEnvelope(envelope.ProtocolError)
	env.ErrorPayload = &envelope.Error{Code: code, MessageParams: params}
	return c.mustEncode(env)
}

func (c *Connection) mustEncode(env *envelope.Envelope) []byte {
	data, err := envelope.Encode(env)
	if err != nil {
		// Encode only fails for values this package itself constructs;
		// a failure here is a programming error, not a runtime one.
		panic(fmt.Sprintf("rpcsession: failed to encode outbound envelope: %s", err))
	}
	return data
}

func sanitizeDisplayString(s string) string {
	const maxLen = 128
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return string(out)
}
