// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.PrivateKey, b.PrivateKey)
	assert.NotEqual(t, a.PublicKey, b.PublicKey)

	// RFC 7748 clamping
	assert.Zero(t, a.PrivateKey[0]&7)
	assert.Zero(t, a.PrivateKey[31]&128)
	assert.NotZero(t, a.PrivateKey[31]&64)
}

func TestPublicKeyEncodeDecode(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	encoded := EncodePublicKey(pair.PublicKey)
	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, pair.PublicKey, decoded)

	_, err = DecodePublicKey("not base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = DecodePublicKey(short)
	assert.Error(t, err)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	groupKey, err := GenerateGroupKey()
	require.NoError(t, err)
	require.Len(t, groupKey, GroupKeySize)

	wrapped, err := WrapKey(groupKey, sender.PrivateKey, recipient.PublicKey)
	require.NoError(t, err)

	unwrapped, err := UnwrapKey(wrapped, recipient.PrivateKey, sender.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, groupKey, unwrapped)
}

func TestUnwrapWithWrongKeyFails(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()
	outsider, _ := GenerateKeyPair()

	groupKey, err := GenerateGroupKey()
	require.NoError(t, err)

	wrapped, err := WrapKey(groupKey, sender.PrivateKey, recipient.PublicKey)
	require.NoError(t, err)

	// A non-recipient cannot unwrap
	_, err = UnwrapKey(wrapped, outsider.PrivateKey, sender.PublicKey)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	// The recipient cannot verify a wrapping attributed to the wrong sender
	_, err = UnwrapKey(wrapped, recipient.PrivateKey, outsider.PublicKey)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestWrapRejectsBadKeyLength(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()

	_, err := WrapKey([]byte("short"), sender.PrivateKey, recipient.PublicKey)
	assert.Error(t, err)
}

func TestEncryptDecryptMessage(t *testing.T) {
	key, err := GenerateGroupKey()
	require.NoError(t, err)

	plaintext := []byte("I've been feeling better this week")
	payload, err := EncryptMessage(plaintext, key, "group-1", 3)
	require.NoError(t, err)

	assert.NotEmpty(t, payload.Content)
	assert.NotEmpty(t, payload.IV)
	assert.NotEmpty(t, payload.Tag)

	decrypted, err := DecryptMessage(payload, key, "group-1", 3)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, err := GenerateGroupKey()
	require.NoError(t, err)

	payload, err := EncryptMessage([]byte("hello"), key, "group-1", 1)
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(payload.Content)
	require.NoError(t, err)
	ct[0] ^= 0x01
	payload.Content = base64.StdEncoding.EncodeToString(ct)

	_, err = DecryptMessage(payload, key, "group-1", 1)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDecryptWrongContextFails(t *testing.T) {
	key, err := GenerateGroupKey()
	require.NoError(t, err)

	payload, err := EncryptMessage([]byte("hello"), key, "group-1", 2)
	require.NoError(t, err)

	// Relabeling the version or the group breaks the AAD binding even
	// under the correct key
	_, err = DecryptMessage(payload, key, "group-1", 3)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = DecryptMessage(payload, key, "group-2", 2)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key, _ := GenerateGroupKey()
	other, _ := GenerateGroupKey()

	payload, err := EncryptMessage([]byte("hello"), key, "group-1", 1)
	require.NoError(t, err)

	_, err = DecryptMessage(payload, other, "group-1", 1)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestNonceUniqueness(t *testing.T) {
	key, err := GenerateGroupKey()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		payload, err := EncryptMessage([]byte("same plaintext"), key, "group-1", 1)
		require.NoError(t, err)
		assert.False(t, seen[payload.IV], "nonce reused")
		seen[payload.IV] = true
	}
}
