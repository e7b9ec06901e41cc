// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package keystore

import (
	"encoding/xml"
	"fmt"
	"time"
)

// wireContainer is the canonical persisted schema:
//   <KeyContainerClass><Key/><AuthExpires/><Username/><ClientName/></KeyContainerClass>
//
// No XML library appears anywhere in the retrieval pack; encoding/xml
// is used directly (see DESIGN.md for the justification). The schema
// itself is a compatibility anchor per spec.md §9 and must not change
// shape without a new persistence key.
type wireContainer struct {
	XMLName     xml.Name `xml:"KeyContainerClass"`
	Key         string   `xml:"Key"`
	AuthExpires string   `xml:"AuthExpires"`
	Username    string   `xml:"Username"`
	ClientName  string   `xml:"ClientName"`
}

// legacyWireContainer accepts an older, lower-camel-cased element
// naming a prior version of this schema used, per spec.md §9's
// "legacy-schema read support is mandatory" requirement.
type legacyWireContainer struct {
	XMLName     xml.Name `xml:"KeyContainerClass"`
	Key         string   `xml:"key"`
	AuthExpires string   `xml:"authExpires"`
	Username    string   `xml:"username"`
	ClientName  string   `xml:"clientName"`
}

const authExpiresLayout = time.RFC3339

func encodeXML(c KeyContainer) ([]byte, error) {
	w := wireContainer{
		Key:         c.Key,
		AuthExpires: c.AuthExpires.UTC().Format(authExpiresLayout),
		Username:    c.Username,
		ClientName:  c.ClientName,
	}
	return xml.Marshal(w)
}

func decodeXML(raw []byte) (*KeyContainer, error) {
	var w wireContainer
	if err := xml.Unmarshal(raw, &w); err == nil && w.Key != "" {
		return containerFromWire(w.Key, w.AuthExpires, w.Username, w.ClientName)
	}

	var legacy legacyWireContainer
	if err := xml.Unmarshal(raw, &legacy); err == nil && legacy.Key != "" {
		return containerFromWire(legacy.Key, legacy.AuthExpires, legacy.Username, legacy.ClientName)
	}

	return nil, fmt.Errorf("keystore: not a recognised KeyContainer document")
}

func containerFromWire(key, authExpires, username, clientName string) (*KeyContainer, error) {
	expires, err := time.Parse(authExpiresLayout, authExpires)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid AuthExpires %q: %w", authExpires, err)
	}
	return &KeyContainer{
		Key:         key,
		Username:    username,
		ClientName:  clientName,
		AuthExpires: expires,
	}, nil
}
