// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taut0logy/Serenite-sub001/crypto"
	"github.com/taut0logy/Serenite-sub001/distribution"
	"github.com/taut0logy/Serenite-sub001/groupkey"
	"github.com/taut0logy/Serenite-sub001/keystore"
	"github.com/taut0logy/Serenite-sub001/models"
	"github.com/taut0logy/Serenite-sub001/transport"
)

// fakeService is an in-memory key distribution service shared between
// simulated users, with the create-once-per-version rule.
type fakeService struct {
	mu         sync.Mutex
	publicKeys map[string]string
	bundles    map[string]map[int]map[string]bundleEntry // group -> version -> user
}

type bundleEntry struct {
	wrappedKey       string
	wrapperPublicKey string
}

func newFakeService() *fakeService {
	return &fakeService{
		publicKeys: make(map[string]string),
		bundles:    make(map[string]map[int]map[string]bundleEntry),
	}
}

// userClient is the per-user facade over the shared fake service,
// implementing both keystore.Publisher and groupkey.Distributor.
type userClient struct {
	svc    *fakeService
	userID string
}

func (c *userClient) PublishPublicKey(_ context.Context, key models.UserPublicKey) error {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.svc.publicKeys[key.UserID] = key.PublicKey
	return nil
}

func (c *userClient) PublishGroupKeys(_ context.Context, publish models.GroupKeyPublish) error {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	versions, ok := c.svc.bundles[publish.GroupID]
	if !ok {
		versions = make(map[int]map[string]bundleEntry)
		c.svc.bundles[publish.GroupID] = versions
	}
	if _, exists := versions[publish.KeyVersion]; exists {
		return distribution.ErrVersionConflict
	}
	wrapperPub := c.svc.publicKeys[c.userID]
	entries := make(map[string]bundleEntry, len(publish.EncryptedKeys))
	for _, wrapped := range publish.EncryptedKeys {
		entries[wrapped.UserID] = bundleEntry{
			wrappedKey:       wrapped.EncryptedKey,
			wrapperPublicKey: wrapperPub,
		}
	}
	versions[publish.KeyVersion] = entries
	return nil
}

func (c *userClient) FetchGroupKey(_ context.Context, groupID, userID string) (*models.GroupKeyBundle, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	latest := 0
	for version := range c.svc.bundles[groupID] {
		if version > latest {
			latest = version
		}
	}
	if latest == 0 {
		return nil, nil
	}
	entry, ok := c.svc.bundles[groupID][latest][userID]
	if !ok {
		return nil, nil
	}
	return &models.GroupKeyBundle{
		GroupID:          groupID,
		WrappedKey:       entry.wrappedKey,
		KeyVersion:       latest,
		WrapperPublicKey: entry.wrapperPublicKey,
		CreatedAt:        time.Now(),
	}, nil
}

type testUser struct {
	identity   Identity
	keys       *keystore.Store
	manager    *groupkey.Manager
	controller *Controller
}

func newTestUser(t *testing.T, userID string, svc *fakeService, tp transport.Transport, groupID string) *testUser {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	client := &userClient{svc: svc, userID: userID}
	keys := keystore.New(keyring.NewArrayKeyring(nil), client, log)
	manager := groupkey.NewManager(keys, client, log)

	identity := Identity{UserID: userID, DisplayName: userID}
	controller := NewController(Config{
		Identity:  identity,
		GroupID:   groupID,
		Keys:      keys,
		Manager:   manager,
		Transport: tp,
		Logger:    log,
	})
	return &testUser{identity: identity, keys: keys, manager: manager, controller: controller}
}

func (u *testUser) member(t *testing.T) models.GroupMember {
	t.Helper()
	// Establish the key pair up front so rosters can carry the public key
	require.NoError(t, u.keys.Initialize(context.Background(), u.identity.UserID))
	publicKey, err := u.keys.PublicKey()
	require.NoError(t, err)
	return models.GroupMember{UserID: u.identity.UserID, PublicKey: publicKey}
}

func waitForMessage(t *testing.T, c *Controller, predicate func(Message) bool) Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range c.Messages() {
			if predicate(msg) {
				return msg
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected message did not arrive")
	return Message{}
}

func waitForKeyVersion(t *testing.T, m *groupkey.Manager, groupID string, version int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if info := m.GetGroupKey(groupID); info != nil && info.KeyVersion >= version {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("key version %d never arrived", version)
}

func TestSendRejectedBeforeStart(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	alice := newTestUser(t, "alice", svc, tp, "g1")

	err := alice.controller.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotReady)

	state, _ := alice.controller.State()
	assert.Equal(t, StateUninitialized, state)
}

func TestTwoUsersExchangeMessages(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	bob := newTestUser(t, "bob", svc, tp, "g1")
	roster := []models.GroupMember{alice.member(t), bob.member(t)}

	// Alice originates the group
	require.NoError(t, alice.controller.Start(ctx, roster))
	state, reason := alice.controller.State()
	require.Equal(t, StateReady, state, reason)

	// Bob joins with no roster knowledge; he fetches his wrapped copy
	require.NoError(t, bob.controller.Start(ctx, nil))
	state, reason = bob.controller.State()
	require.Equal(t, StateReady, state, reason)

	require.NoError(t, alice.controller.Send(ctx, "welcome to the circle"))

	got := waitForMessage(t, bob.controller, func(m Message) bool {
		return m.UserID == "alice" && !m.System
	})
	assert.Equal(t, "welcome to the circle", got.Content)
	assert.True(t, got.Decrypted)
	assert.Empty(t, got.DecryptionError)

	require.NoError(t, alice.controller.Close())
	require.NoError(t, bob.controller.Close())
}

func TestStartIsIdempotentWhenReady(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	roster := []models.GroupMember{alice.member(t)}

	require.NoError(t, alice.controller.Start(ctx, roster))
	v1 := alice.manager.GetGroupKey("g1")
	require.NoError(t, alice.controller.Start(ctx, roster))
	assert.Equal(t, v1, alice.manager.GetGroupKey("g1"))

	require.NoError(t, alice.controller.Close())
}

func TestStartFailsWithoutAnyKeySource(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()

	// No roster and no published bundle: encryption cannot be established
	alice := newTestUser(t, "alice", svc, tp, "g1")
	err := alice.controller.Start(context.Background(), nil)
	require.Error(t, err)

	state, reason := alice.controller.State()
	assert.Equal(t, StateFailed, state)
	assert.NotEmpty(t, reason)

	// A retry after the group appears succeeds
	bob := newTestUser(t, "bob", svc, tp, "g1")
	require.NoError(t, bob.controller.Start(context.Background(),
		[]models.GroupMember{bob.member(t), alice.member(t)}))

	require.NoError(t, alice.controller.Start(context.Background(), nil))
	state, _ = alice.controller.State()
	assert.Equal(t, StateReady, state)

	require.NoError(t, alice.controller.Close())
	require.NoError(t, bob.controller.Close())
}

func TestMemberJoinTriggersRotation(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	require.NoError(t, alice.controller.Start(ctx, []models.GroupMember{alice.member(t)}))
	require.Equal(t, 1, alice.manager.GetGroupKey("g1").KeyVersion)

	// Carol announces herself on the channel; alice rotates her in
	carol := newTestUser(t, "carol", svc, tp, "g1")
	carolMember := carol.member(t)
	require.NoError(t, tp.Publish(ctx, "g1", transport.Event{
		Kind:    transport.EventMemberJoined,
		GroupID: "g1",
		Membership: &transport.MembershipChange{
			UserID:      carolMember.UserID,
			DisplayName: "carol",
			PublicKey:   carolMember.PublicKey,
		},
	}))

	waitForKeyVersion(t, alice.manager, "g1", 2)

	// Carol can now fetch her wrapped copy of version 2
	bundle, err := carol.manager.FetchGroupKey(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, 2, bundle.KeyVersion)

	waitForMessage(t, alice.controller, func(m Message) bool { return m.System })

	require.NoError(t, alice.controller.Close())
}

func TestMemberLeaveRotatesKey(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	bob := newTestUser(t, "bob", svc, tp, "g1")
	roster := []models.GroupMember{alice.member(t), bob.member(t)}

	require.NoError(t, alice.controller.Start(ctx, roster))
	require.NoError(t, bob.controller.Start(ctx, nil))

	// Bob leaves; alice rotates him out
	require.NoError(t, bob.controller.Close())
	waitForKeyVersion(t, alice.manager, "g1", 2)

	// Bob has no wrapped copy of the new version
	bundle, err := bob.manager.FetchGroupKey(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, bundle)

	require.NoError(t, alice.controller.Close())
}

func TestPeersConvergeAfterRotationNotice(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	bob := newTestUser(t, "bob", svc, tp, "g1")
	roster := []models.GroupMember{alice.member(t), bob.member(t)}

	require.NoError(t, alice.controller.Start(ctx, roster))
	// Bob knows the roster too; his create attempt loses the race and
	// falls back to joining alice's key
	require.NoError(t, bob.controller.Start(ctx, roster))

	// Carol joins; every sitting member hears it, one rotation wins
	carol := newTestUser(t, "carol", svc, tp, "g1")
	carolMember := carol.member(t)
	require.NoError(t, tp.Publish(ctx, "g1", transport.Event{
		Kind:    transport.EventMemberJoined,
		GroupID: "g1",
		Membership: &transport.MembershipChange{
			UserID:      carolMember.UserID,
			DisplayName: "carol",
			PublicKey:   carolMember.PublicKey,
		},
	}))

	waitForKeyVersion(t, alice.manager, "g1", 2)
	waitForKeyVersion(t, bob.manager, "g1", 2)
	assert.Equal(t, alice.manager.GetGroupKey("g1").Key, bob.manager.GetGroupKey("g1").Key)

	// Messages still flow under the rotated key
	require.NoError(t, alice.controller.Send(ctx, "still here"))
	got := waitForMessage(t, bob.controller, func(m Message) bool {
		return m.UserID == "alice" && !m.System
	})
	assert.Equal(t, "still here", got.Content)

	require.NoError(t, alice.controller.Close())
	require.NoError(t, bob.controller.Close())
}

func TestKeylessJoinCannotBreakLaterRotations(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	require.NoError(t, alice.controller.Start(ctx, []models.GroupMember{alice.member(t)}))
	require.Equal(t, 1, alice.manager.GetGroupKey("g1").KeyVersion)

	// A keyless join is rejected at the transport boundary, but a relay
	// that skips validation could still deliver one. It must not enter
	// the roster, or every later rotation would fail on the missing key.
	alice.controller.handleEvent(transport.Event{
		Kind:    transport.EventMemberJoined,
		GroupID: "g1",
		Membership: &transport.MembershipChange{
			UserID:      "mallory",
			DisplayName: "mallory",
		},
	})

	state, reason := alice.controller.State()
	require.Equal(t, StateReady, state, reason)

	// Carol's legitimate join still rotates her in
	carol := newTestUser(t, "carol", svc, tp, "g1")
	carolMember := carol.member(t)
	require.NoError(t, tp.Publish(ctx, "g1", transport.Event{
		Kind:    transport.EventMemberJoined,
		GroupID: "g1",
		Membership: &transport.MembershipChange{
			UserID:      carolMember.UserID,
			DisplayName: "carol",
			PublicKey:   carolMember.PublicKey,
		},
	}))

	waitForKeyVersion(t, alice.manager, "g1", 2)
	state, reason = alice.controller.State()
	assert.Equal(t, StateReady, state, reason)

	bundle, err := carol.manager.FetchGroupKey(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, bundle, "new member must be wrapped into the rotated key")
	assert.Equal(t, 2, bundle.KeyVersion)

	require.NoError(t, alice.controller.Close())
}

func TestMessageWithoutKeyMarkedUnavailable(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	require.NoError(t, alice.controller.Start(ctx, []models.GroupMember{alice.member(t)}))

	// Eve is on the channel but was never wrapped into any bundle, so her
	// fetch comes back empty and the ciphertext must stay ciphertext
	eve := newTestUser(t, "eve", svc, tp, "g1")
	require.NoError(t, eve.keys.Initialize(ctx, "eve"))

	info := alice.manager.GetGroupKey("g1")
	payload, err := crypto.EncryptMessage([]byte("member-only confession"), info.Key, "g1", info.KeyVersion)
	require.NoError(t, err)
	eve.controller.handleEvent(transport.Event{
		Kind:    transport.EventChatMessage,
		GroupID: "g1",
		Message: &models.EncryptedMessageEnvelope{
			ID:               "m1",
			SenderUserID:     "alice",
			EncryptedContent: payload,
			GroupID:          "g1",
			KeyVersion:       info.KeyVersion,
		},
	})

	messages := eve.controller.Messages()
	require.Len(t, messages, 1)
	assert.False(t, messages[0].Decrypted)
	assert.Contains(t, messages[0].Content, "key not available")
	assert.NotContains(t, messages[0].Content, "confession")
	assert.NotEmpty(t, messages[0].DecryptionError)

	require.NoError(t, alice.controller.Close())
}

func TestTamperedMessageMarkedUndecryptable(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	alice := newTestUser(t, "alice", svc, tp, "g1")
	bob := newTestUser(t, "bob", svc, tp, "g1")
	roster := []models.GroupMember{alice.member(t), bob.member(t)}

	require.NoError(t, alice.controller.Start(ctx, roster))
	require.NoError(t, bob.controller.Start(ctx, nil))

	// Forge an envelope with garbage ciphertext at the current version
	garbage := base64.StdEncoding.EncodeToString([]byte("garbage ciphertext"))
	iv := base64.StdEncoding.EncodeToString(make([]byte, 12))
	tag := base64.StdEncoding.EncodeToString(make([]byte, 16))
	require.NoError(t, tp.Publish(ctx, "g1", transport.Event{
		Kind:    transport.EventChatMessage,
		GroupID: "g1",
		Message: &models.EncryptedMessageEnvelope{
			ID:           "forged",
			SenderUserID: "mallory",
			EncryptedContent: models.EncryptedPayload{
				Content: garbage,
				IV:      iv,
				Tag:     tag,
			},
			GroupID:    "g1",
			KeyVersion: 1,
		},
	}))

	got := waitForMessage(t, bob.controller, func(m Message) bool { return m.ID == "forged" })
	assert.False(t, got.Decrypted)
	assert.Contains(t, got.Content, "decryption failed")
	assert.NotEmpty(t, got.DecryptionError)

	// The loop survives; a legitimate message still decrypts
	require.NoError(t, alice.controller.Send(ctx, "all good"))
	legit := waitForMessage(t, bob.controller, func(m Message) bool {
		return m.UserID == "alice" && !m.System
	})
	assert.Equal(t, "all good", legit.Content)

	require.NoError(t, alice.controller.Close())
	require.NoError(t, bob.controller.Close())
}

func TestHistoryIsBounded(t *testing.T) {
	svc := newFakeService()
	tp := transport.NewMemoryTransport()
	ctx := context.Background()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	client := &userClient{svc: svc, userID: "alice"}
	keys := keystore.New(keyring.NewArrayKeyring(nil), client, log)
	manager := groupkey.NewManager(keys, client, log)
	controller := NewController(Config{
		Identity:    Identity{UserID: "alice", DisplayName: "alice"},
		GroupID:     "g1",
		Keys:        keys,
		Manager:     manager,
		Transport:   tp,
		Logger:      log,
		MaxMessages: 5,
	})

	require.NoError(t, keys.Initialize(ctx, "alice"))
	publicKey, err := keys.PublicKey()
	require.NoError(t, err)
	require.NoError(t, controller.Start(ctx, []models.GroupMember{{UserID: "alice", PublicKey: publicKey}}))

	for i := 0; i < 12; i++ {
		require.NoError(t, controller.Send(ctx, fmt.Sprintf("message %d", i)))
	}

	waitForMessage(t, controller, func(m Message) bool { return m.Content == "message 11" })
	messages := controller.Messages()
	assert.LessOrEqual(t, len(messages), 5)
	assert.Equal(t, "message 11", messages[len(messages)-1].Content)

	require.NoError(t, controller.Close())
}
