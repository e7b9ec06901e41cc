// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package rpcsession implements the secure session establishment and
message-encryption core used by a password-manager plugin to talk to a
browser extension over a local, opaque, bidirectional byte channel.

The core turns that unauthenticated channel into an authenticated,
confidential, replay-resistant message stream carrying RPC calls, by
layering three protocols: a first-contact mutual-authentication
handshake using SRP-6a (internal/pkg/srp), a reconnection handshake
using a stored shared secret and a nonce challenge-response
(internal/pkg/challenge), and per-message authenticated encryption
(internal/pkg/cipher). internal/pkg/envelope codes the wire schema all
three ride on top of, and internal/pkg/keystore persists the long-term
key the first two protocols produce.

Connection is the only stateful long-lived type; it owns one
transport's worth of state and exposes a single entry point,
HandleMessage, that a caller feeds inbound wire bytes into and gets
back the bytes (if any) to send in reply. The WebSocket transport
itself, JSON framing around that transport, RPC method dispatch after
decryption, and the UI dialogs shown during first pairing are all
external collaborators this package depends on only through narrow
interfaces (see internal/pkg/uihost and internal/pkg/configbag) —
never concretely.
*/
package rpcsession
