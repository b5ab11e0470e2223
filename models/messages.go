// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// EncryptedPayload is the self-contained ciphertext of one message:
// content, nonce and authentication tag, each base64 encoded. Together
// with the right group key version it decrypts independently of any
// prior state.
type EncryptedPayload struct {
	Content string `json:"encrypted_content"`
	IV      string `json:"iv"`
	Tag     string `json:"tag"`
}

// EncryptedMessageEnvelope is the wire representation of one encrypted
// chat message. KeyVersion names the generation of the group key the
// ciphertext was produced under; a recipient without that version cannot
// decrypt and reports a typed failure instead.
type EncryptedMessageEnvelope struct {
	ID                string           `json:"id"`
	SenderUserID      string           `json:"sender_user_id"`
	SenderDisplayName string           `json:"sender_display_name"`
	EncryptedContent  EncryptedPayload `json:"encrypted_content"`
	Timestamp         time.Time        `json:"timestamp"`
	GroupID           string           `json:"group_id"`
	KeyVersion        int              `json:"key_version"`
}
