// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// HexBig carries an SRP big-integer field (A, B, s, M, M2) across the
// wire as a lowercase hex string, grounded on the hex.EncodeToString/
// hex.DecodeString convention used by Credentials() in
// _examples/other_examples/opencoff-go-srp__srp.go. A nil *HexBig
// encodes as an absent field (via the struct's "omitempty" tag).
type HexBig big.Int

// NewHexBig wraps a *big.Int for serialization.
func NewHexBig(i *big.Int) *HexBig {
	if i == nil {
		return nil
	}
	return (*HexBig)(i)
}

// Int unwraps back to a *big.Int, or nil if h is nil.
func (h *HexBig) Int() *big.Int {
	if h == nil {
		return nil
	}
	return (*big.Int)(h)
}

func (h HexBig) MarshalJSON() ([]byte, error) {
	b := (*big.Int)(&h)
	return json.Marshal(hex.EncodeToString(b.Bytes()))
}

func (h *HexBig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("envelope: invalid hex big integer %q: %w", s, err)
	}
	(*big.Int)(h).SetBytes(raw)
	return nil
}
