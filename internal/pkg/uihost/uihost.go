// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package uihost defines the capability the connection state machine
// depends on for anything that must happen on, or be synchronized
// with, the host UI framework's single thread — displaying the visual
// password and pairing-confirmation dialog, warning the user about a
// compromised stored key, saving the config bag, and sourcing per-user
// key material for Tier-2 sealing.
//
// This is the "UiHost capability" design note from spec.md §9, made
// concrete: the core depends only on this interface, never on a
// specific GUI library.
package uihost

// PairingRequest carries everything the modal pairing dialog needs to
// show the user during first-contact SRP pairing.
type PairingRequest struct {
	ClientDisplayName        string
	ClientDisplayDescription string
	VisualPassword           string
}

// AuthOutcome is the user's response to a pairing dialog.
type AuthOutcome struct {
	Approved bool
}

// Host is the capability the core depends on instead of a concrete UI
// framework.
type Host interface {
	// Post schedules fn to run on the UI thread. Callers never block
	// waiting for fn to run.
	Post(fn func())

	// PostModalDialog shows the pairing confirmation dialog (with the
	// visual password) on the UI thread and returns a channel that
	// receives exactly one AuthOutcome once the user responds.
	PostModalDialog(req PairingRequest) <-chan AuthOutcome

	// Warn surfaces a user-facing warning, e.g. the exploit-marker
	// refusal (spec.md §3, §8 property 8). Always posted to the UI
	// thread internally; callers need not do so themselves.
	Warn(message string)

	// MasterKey returns OS-scoped key material this host trusts (e.g.
	// derived from the logged-in user's session) for sealing Tier-2
	// KeyContainers. The core never invents its own persistent secret
	// for this purpose.
	MasterKey() []byte
}
