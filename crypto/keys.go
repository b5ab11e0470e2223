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

// Package crypto implements the primitives for end-to-end encrypted group
// chat: X25519 key agreement for wrapping a shared group key per member,
// and AES-256-GCM for sealing individual messages under that key.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// GroupKeySize is the byte length of a group's symmetric key (AES-256).
const GroupKeySize = 32

// KeyPair is an X25519 key-agreement key pair. The private scalar stays
// on the device; only the public key is ever shared.
type KeyPair struct {
	PrivateKey [32]byte
	PublicKey  [32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	clampPrivateKey(&priv)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{PrivateKey: priv}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// GenerateGroupKey creates a fresh random symmetric key for a group.
func GenerateGroupKey() ([]byte, error) {
	key := make([]byte, GroupKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate group key: %w", err)
	}
	return key, nil
}

// EncodePublicKey returns the base64 form used on the wire and in storage.
func EncodePublicKey(pub [32]byte) string {
	return base64.StdEncoding.EncodeToString(pub[:])
}

// DecodePublicKey parses a base64 encoded X25519 public key.
func DecodePublicKey(encoded string) ([32]byte, error) {
	var pub [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return pub, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(raw) != 32 {
		return pub, fmt.Errorf("invalid public key length %d", len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

// EncodePrivateKey returns the base64 form accepted by local device storage.
func EncodePrivateKey(priv [32]byte) string {
	return base64.StdEncoding.EncodeToString(priv[:])
}

// DecodePrivateKey parses a base64 encoded X25519 private scalar.
func DecodePrivateKey(encoded string) ([32]byte, error) {
	var priv [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return priv, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != 32 {
		return priv, fmt.Errorf("invalid private key length %d", len(raw))
	}
	copy(priv[:], raw)
	return priv, nil
}

// RFC 7748 clamping.
func clampPrivateKey(priv *[32]byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}
