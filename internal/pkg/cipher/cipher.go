// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cipher implements the per-message authenticated encryption
// used once a connection is authorised: AES-256-CBC for confidentiality
// composed encrypt-then-MAC with a plain SHA-1 digest (not HMAC) for
// integrity.
//
// The overall shape — generate IV, CBC-encrypt with PKCS#7-style
// padding, append a tag, compare tags in constant time before
// decrypting — is grounded on
// _examples/frekui-opaque/internal/pkg/authenc/authenc.go. The MAC
// construction is deliberately NOT that file's HKDF-derived-subkey
// HMAC-SHA256 scheme: spec.md §4.5 is explicit that this wire format
// uses tag = SHA-1(macKey || ciphertext || IV) with macKey = SHA-1(rawKey),
// and that this is a documented compatibility contract, not a bug to
// silently fix.
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
)

const blockSize = 16

// Message is the decoded form of an envelope's jsonrpc sub-payload.
type Message struct {
	IV      []byte
	Message []byte
	HMAC    []byte
}

// Encrypt encrypts plaintext under rawKey (must be 32 bytes, the
// SRP-derived or stored-key-challenge long-term key) and returns the
// wire-ready {iv, message, hmac} triple.
func Encrypt(rawKey, plaintext []byte) (*Message, error) {
	if len(rawKey) != 32 {
		return nil, fmt.Errorf("cipher: key must be 32 bytes, got %d", len(rawKey))
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("cipher: aes.NewCipher: %w", err)
	}

	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cipher: generating IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, blockSize)
	ciphertext := make([]byte, len(padded))
	enc := stdcipher.NewCBCEncrypter(block, iv)
	enc.CryptBlocks(ciphertext, padded)

	tag := computeTag(rawKey, ciphertext, iv)

	return &Message{IV: iv, Message: ciphertext, HMAC: tag}, nil
}

// Decrypt verifies msg's tag against rawKey and, on success, CBC
// decrypts and un-pads the plaintext. Any byte-level failure (bad
// block alignment, tag mismatch, invalid padding) collapses to a
// single error without distinguishing cause, per spec.md §4.5 and §9's
// "exception-to-null collapse" — callers must never forward the
// specific error reason to the wire.
func Decrypt(rawKey []byte, msg *Message) ([]byte, error) {
	if len(rawKey) != 32 {
		return nil, errDecryptFailed
	}
	if len(msg.IV) != blockSize || len(msg.Message) == 0 || len(msg.Message)%blockSize != 0 {
		return nil, errDecryptFailed
	}

	expectedTag := computeTag(rawKey, msg.Message, msg.IV)
	if subtle.ConstantTimeCompare(expectedTag, msg.HMAC) != 1 {
		return nil, errDecryptFailed
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, errDecryptFailed
	}

	plainPadded := make([]byte, len(msg.Message))
	dec := stdcipher.NewCBCDecrypter(block, msg.IV)
	dec.CryptBlocks(plainPadded, msg.Message)

	plaintext, ok := pkcs7Unpad(plainPadded, blockSize)
	if !ok {
		return nil, errDecryptFailed
	}
	return plaintext, nil
}

// errDecryptFailed is the single, cause-agnostic failure value
// Decrypt ever returns.
var errDecryptFailed = fmt.Errorf("cipher: decryption failed")

// computeTag implements tag = SHA-1(macKey || ciphertext || IV), where
// macKey = SHA-1(rawKey). This is intentionally a plain hash, not an
// HMAC — see the package doc comment.
func computeTag(rawKey, ciphertext, iv []byte) []byte {
	macKey := sha1.Sum(rawKey)
	h := sha1.New()
	h.Write(macKey[:])
	h.Write(ciphertext)
	h.Write(iv)
	return h.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, false
		}
	}
	return data[:len(data)-padLen], true
}
