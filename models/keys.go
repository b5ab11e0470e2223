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

package models

import (
	"time"
)

// UserPublicKey is the shareable half of a user's device key pair.
// The private half never leaves the device.
type UserPublicKey struct {
	UserID    string    `json:"user_id" db:"user_id"`
	PublicKey string    `json:"public_key" db:"public_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GroupMember is one participant of a meeting's encrypted channel.
// The membership set is the authoritative input to key wrapping.
type GroupMember struct {
	UserID    string    `json:"user_id" db:"user_id"`
	PublicKey string    `json:"public_key" db:"public_key"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

// WrappedKey is one copy of a group's symmetric key, encrypted so that
// only the named recipient can recover it.
type WrappedKey struct {
	UserID       string `json:"user_id" db:"user_id"`
	EncryptedKey string `json:"encrypted_key" db:"encrypted_key"`
}

// GroupKeyPublish is the bundle a group originator uploads after creating
// or rotating a group key: one wrapped copy per member of the roster at
// the moment of that rotation.
type GroupKeyPublish struct {
	GroupID       string       `json:"group_id"`
	EncryptedKeys []WrappedKey `json:"encrypted_keys"`
	KeyVersion    int          `json:"key_version"`
}

// GroupKeyBundle is what a joining member fetches: their wrapped copy,
// the version it belongs to, and the public key of whoever wrapped it.
// Without the wrapper's public key the copy cannot be unwrapped.
type GroupKeyBundle struct {
	GroupID          string    `json:"group_id"`
	WrappedKey       string    `json:"wrapped_key"`
	KeyVersion       int       `json:"key_version"`
	WrapperPublicKey string    `json:"wrapper_public_key"`
	CreatedAt        time.Time `json:"created_at"`
}
