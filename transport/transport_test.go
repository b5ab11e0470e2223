// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taut0logy/Serenite-sub001/models"
)

func chatEvent(groupID, sender string) Event {
	return Event{
		Kind:    EventChatMessage,
		GroupID: groupID,
		Message: &models.EncryptedMessageEnvelope{
			ID:           "m1",
			SenderUserID: sender,
			GroupID:      groupID,
			KeyVersion:   1,
		},
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"valid chat message", chatEvent("g1", "alice"), false},
		{"missing group id", chatEvent("", "alice"), true},
		{"chat without envelope", Event{Kind: EventChatMessage, GroupID: "g1"}, true},
		{"zero key version", Event{Kind: EventChatMessage, GroupID: "g1",
			Message: &models.EncryptedMessageEnvelope{SenderUserID: "alice"}}, true},
		{"unknown kind", Event{Kind: "emoji_reaction", GroupID: "g1"}, true},
		{"join without user", Event{Kind: EventMemberJoined, GroupID: "g1",
			Membership: &MembershipChange{}}, true},
		{"join without public key", Event{Kind: EventMemberJoined, GroupID: "g1",
			Membership: &MembershipChange{UserID: "bob"}}, true},
		{"valid join", Event{Kind: EventMemberJoined, GroupID: "g1",
			Membership: &MembershipChange{UserID: "bob", PublicKey: "a2V5"}}, false},
		{"leave without public key", Event{Kind: EventMemberLeft, GroupID: "g1",
			Membership: &MembershipChange{UserID: "bob"}}, false},
		{"rotation without version", Event{Kind: EventKeyRotated, GroupID: "g1",
			Rotation: &KeyRotationNotice{RotatedBy: "alice"}}, true},
		{"valid rotation", Event{Kind: EventKeyRotated, GroupID: "g1",
			Rotation: &KeyRotationNotice{KeyVersion: 2, RotatedBy: "alice"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ev := chatEvent("g1", "alice")
	data, err := ev.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Kind, decoded.Kind)
	assert.Equal(t, "alice", decoded.Message.SenderUserID)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestMemoryTransportFanOut(t *testing.T) {
	tp := NewMemoryTransport()
	ctx := context.Background()

	subA, err := tp.Subscribe(ctx, "g1")
	require.NoError(t, err)
	subB, err := tp.Subscribe(ctx, "g1")
	require.NoError(t, err)
	other, err := tp.Subscribe(ctx, "g2")
	require.NoError(t, err)

	require.NoError(t, tp.Publish(ctx, "g1", chatEvent("g1", "alice")))

	for _, sub := range []Subscription{subA, subB} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, EventChatMessage, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other.Events():
		t.Fatal("event leaked across channels")
	default:
	}
}

func TestMemoryTransportCloseIsPerSubscription(t *testing.T) {
	tp := NewMemoryTransport()
	ctx := context.Background()

	subA, err := tp.Subscribe(ctx, "g1")
	require.NoError(t, err)
	subB, err := tp.Subscribe(ctx, "g1")
	require.NoError(t, err)

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close(), "double close is safe")

	_, open := <-subA.Events()
	assert.False(t, open, "closed subscription's channel should be closed")

	// The other subscriber is unaffected
	require.NoError(t, tp.Publish(ctx, "g1", chatEvent("g1", "alice")))
	select {
	case ev := <-subB.Events():
		assert.Equal(t, EventChatMessage, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber did not receive event")
	}
}

func TestMemoryTransportRejectsInvalidEvent(t *testing.T) {
	tp := NewMemoryTransport()
	err := tp.Publish(context.Background(), "g1", Event{Kind: EventChatMessage, GroupID: "g1"})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
