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
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/taut0logy/Serenite-sub001/models"
)

const gcmTagSize = 16

// EncryptMessage seals a plaintext under the group key. The nonce is fresh
// random per call; multiple devices may hold the same key version, so a
// shared counter could never guarantee uniqueness. GroupID and keyVersion
// are bound as additional authenticated data, so a ciphertext relabeled
// with a different version fails authentication even under the right key.
func EncryptMessage(plaintext []byte, key []byte, groupID string, keyVersion int) (models.EncryptedPayload, error) {
	var payload models.EncryptedPayload

	gcm, err := newGCM(key)
	if err != nil {
		return payload, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return payload, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, envelopeAAD(groupID, keyVersion))

	// Tag travels as its own field, matching the envelope wire format.
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	payload.Content = base64.StdEncoding.EncodeToString(ct)
	payload.IV = base64.StdEncoding.EncodeToString(nonce)
	payload.Tag = base64.StdEncoding.EncodeToString(tag)
	return payload, nil
}

// DecryptMessage verifies and opens a payload. Any tampering, a wrong key,
// or a mismatched groupID/keyVersion binding yields ErrAuthenticationFailed.
func DecryptMessage(payload models.EncryptedPayload, key []byte, groupID string, keyVersion int) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.IV)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(payload.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tag: %w", err)
	}
	if len(nonce) != gcmNonceSize || len(tag) != gcmTagSize {
		return nil, ErrAuthenticationFailed
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, envelopeAAD(groupID, keyVersion))
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func envelopeAAD(groupID string, keyVersion int) []byte {
	return []byte(fmt.Sprintf("%s:%d", groupID, keyVersion))
}
