// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const wrapInfo = "serenite-group-key-wrap-v1"

// gcmNonceSize is the standard 12-byte GCM nonce length.
const gcmNonceSize = 12

// WrapKey encrypts a group's symmetric key for one recipient. The wrapping
// key is derived from the static-static ECDH shared secret between the
// sender's private key and the recipient's public key, so a successful
// unwrap also proves the wrapping came from a holder of the sender's
// private key.
//
// Wire format (base64): nonce(12) || ciphertext+tag.
func WrapKey(groupKey []byte, senderPriv [32]byte, recipientPub [32]byte) (string, error) {
	if len(groupKey) != GroupKeySize {
		return "", fmt.Errorf("group key must be %d bytes, got %d", GroupKeySize, len(groupKey))
	}

	wrappingKey, err := deriveWrappingKey(senderPriv, recipientPub)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(wrappingKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, groupKey, nil)

	out := make([]byte, 0, gcmNonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// UnwrapKey recovers a group key wrapped for us. The shared secret derived
// from our private key and the sender's public key equals the one the
// sender derived, so the GCM tag verifies only for a genuine wrapping.
func UnwrapKey(wrapped string, recipientPriv [32]byte, senderPub [32]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapped key: %w", err)
	}
	if len(raw) < gcmNonceSize+16 {
		return nil, ErrAuthenticationFailed
	}

	wrappingKey, err := deriveWrappingKey(recipientPriv, senderPub)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(wrappingKey)
	if err != nil {
		return nil, err
	}

	groupKey, err := gcm.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if len(groupKey) != GroupKeySize {
		return nil, fmt.Errorf("unwrapped key has invalid length %d", len(groupKey))
	}
	return groupKey, nil
}

// deriveWrappingKey computes the X25519 shared secret and stretches it
// through HKDF-SHA256 into an AES-256 key.
func deriveWrappingKey(priv [32]byte, pub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	key := make([]byte, GroupKeySize)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(wrapInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
