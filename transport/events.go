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

// Package transport carries encrypted chat traffic between meeting
// participants over a publish/subscribe channel keyed by meeting id. The
// relaying side only ever sees ciphertext envelopes.
//
// Every payload is a tagged union discriminated by an explicit kind field
// and validated at this boundary, so malformed input fails fast with a
// typed error instead of propagating undefined fields into the crypto
// components.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/taut0logy/Serenite-sub001/models"
)

// ErrMalformedEvent is returned when an inbound payload fails boundary
// validation.
var ErrMalformedEvent = errors.New("malformed transport event")

// EventKind discriminates the transport payload union.
type EventKind string

const (
	// EventChatMessage carries one encrypted message envelope.
	EventChatMessage EventKind = "chat_message"
	// EventMemberJoined announces a participant entering the channel.
	EventMemberJoined EventKind = "member_joined"
	// EventMemberLeft announces a participant leaving the channel.
	EventMemberLeft EventKind = "member_left"
	// EventKeyRotated tells peers the group key changed and their wrapped
	// copy must be re-fetched.
	EventKeyRotated EventKind = "key_rotated"
)

// MembershipChange identifies the participant behind a join/leave event.
// PublicKey is mandatory on joins so existing members can include the
// newcomer in the next rotation without a separate key fetch; a keyless
// join is rejected at the boundary since it could never be wrapped for.
type MembershipChange struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"public_key,omitempty"`
}

// KeyRotationNotice is broadcast after a successful rotation.
type KeyRotationNotice struct {
	KeyVersion int    `json:"key_version"`
	RotatedBy  string `json:"rotated_by"`
}

// Event is one transport payload. Exactly the field matching Kind is set.
type Event struct {
	Kind       EventKind                        `json:"kind"`
	GroupID    string                           `json:"group_id"`
	Message    *models.EncryptedMessageEnvelope `json:"message,omitempty"`
	Membership *MembershipChange                `json:"membership,omitempty"`
	Rotation   *KeyRotationNotice               `json:"rotation,omitempty"`
}

// Encode serializes an event for the wire.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses and validates one inbound payload.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks that the kind is known, the group id is present and the
// payload field for the kind is populated.
func (e Event) Validate() error {
	if e.GroupID == "" {
		return fmt.Errorf("%w: missing group id", ErrMalformedEvent)
	}
	switch e.Kind {
	case EventChatMessage:
		if e.Message == nil {
			return fmt.Errorf("%w: chat message without envelope", ErrMalformedEvent)
		}
		if e.Message.SenderUserID == "" || e.Message.KeyVersion < 1 {
			return fmt.Errorf("%w: incomplete message envelope", ErrMalformedEvent)
		}
	case EventMemberJoined:
		if e.Membership == nil || e.Membership.UserID == "" {
			return fmt.Errorf("%w: membership event without user", ErrMalformedEvent)
		}
		if e.Membership.PublicKey == "" {
			return fmt.Errorf("%w: join without public key", ErrMalformedEvent)
		}
	case EventMemberLeft:
		if e.Membership == nil || e.Membership.UserID == "" {
			return fmt.Errorf("%w: membership event without user", ErrMalformedEvent)
		}
	case EventKeyRotated:
		if e.Rotation == nil || e.Rotation.KeyVersion < 1 {
			return fmt.Errorf("%w: rotation event without version", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}
	return nil
}

// Subscription is one participant's membership of a meeting channel.
type Subscription interface {
	// Events is the inbound stream. It closes when the subscription ends.
	Events() <-chan Event
	// Close leaves the channel.
	Close() error
}

// Transport is a publish/subscribe channel keyed by meeting id.
type Transport interface {
	// Publish sends an event to every subscriber of the meeting channel.
	Publish(ctx context.Context, groupID string, ev Event) error
	// Subscribe joins a meeting channel.
	Subscribe(ctx context.Context, groupID string) (Subscription, error)
}
